package service

import (
	"fmt"
	"math"
	"slices"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
)

// ============================================================
// Cart reducer
// ============================================================

// CartAction is a mutation applied by ReduceCart.
type CartAction interface {
	cartAction()
}

// AddItem adds a line or increases the quantity of an existing one.
type AddItem struct{ Item domain.CartItem }

// RemoveItem deletes the line with the given product id.
type RemoveItem struct{ ID int64 }

// UpdateQuantity sets a line's quantity; zero or less removes it.
type UpdateQuantity struct {
	ID       int64
	Quantity int
}

// ClearCart empties the cart.
type ClearCart struct{}

func (AddItem) cartAction()        {}
func (RemoveItem) cartAction()     {}
func (UpdateQuantity) cartAction() {}
func (ClearCart) cartAction()      {}

// ReduceCart applies action to state and returns the new state. The input
// state is never modified and totals are recomputed from the full item list.
func ReduceCart(state domain.CartState, action CartAction) domain.CartState {
	switch a := action.(type) {
	case AddItem:
		if checkAdd(state.Items, a.Item) != nil {
			return recompute(slices.Clone(state.Items))
		}
		items := slices.Clone(state.Items)
		if i := indexOf(items, a.Item.ID); i >= 0 {
			items[i].Quantity += a.Item.Quantity
			items[i].Subtotal = round2(items[i].Price * float64(items[i].Quantity))
			return recompute(items)
		}
		item := a.Item
		item.Subtotal = round2(item.Price * float64(item.Quantity))
		return recompute(append(items, item))

	case RemoveItem:
		return recompute(slices.DeleteFunc(slices.Clone(state.Items), func(it domain.CartItem) bool {
			return it.ID == a.ID
		}))

	case UpdateQuantity:
		if a.Quantity <= 0 {
			return ReduceCart(state, RemoveItem{ID: a.ID})
		}
		if a.Quantity > domain.MaxItemQuantity {
			return recompute(slices.Clone(state.Items))
		}
		items := slices.Clone(state.Items)
		if i := indexOf(items, a.ID); i >= 0 {
			items[i].Quantity = a.Quantity
			items[i].Subtotal = round2(items[i].Price * float64(a.Quantity))
		}
		return recompute(items)

	case ClearCart:
		return recompute(nil)
	}
	return recompute(slices.Clone(state.Items))
}

// checkAdd reports why item cannot be added to items. A line's quantity
// stays within [1, MaxItemQuantity] and its price within [0, MaxItemPrice].
func checkAdd(items []domain.CartItem, item domain.CartItem) error {
	if item.Quantity < 1 || item.Quantity > domain.MaxItemQuantity {
		return &domain.ErrValidation{Field: "quantity", Message: fmt.Sprintf("must be between 1 and %d", domain.MaxItemQuantity)}
	}
	if i := indexOf(items, item.ID); i >= 0 {
		if items[i].Quantity > domain.MaxItemQuantity-item.Quantity {
			return &domain.ErrValidation{Field: "quantity", Message: fmt.Sprintf("line would exceed %d units", domain.MaxItemQuantity)}
		}
		return nil
	}
	if math.IsNaN(item.Price) || item.Price < 0 || item.Price > domain.MaxItemPrice {
		return &domain.ErrValidation{Field: "price", Message: fmt.Sprintf("must be between 0 and %d", domain.MaxItemPrice)}
	}
	return nil
}

func indexOf(items []domain.CartItem, id int64) int {
	return slices.IndexFunc(items, func(it domain.CartItem) bool { return it.ID == id })
}

func recompute(items []domain.CartItem) domain.CartState {
	if items == nil {
		items = []domain.CartItem{}
	}
	var (
		count int
		total float64
	)
	for _, it := range items {
		count += it.Quantity
		total += it.Subtotal
	}
	return domain.CartState{Items: items, TotalItems: count, TotalPrice: round2(total)}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// ============================================================
// Cart: the per-session container
// ============================================================

// Cart holds one session's cart and dispatches actions to ReduceCart in order.
type Cart struct {
	state   domain.CartState
	onApply func(action string)
}

// NewCart resumes a cart from its persisted state.
func NewCart(state domain.CartState) *Cart {
	return &Cart{state: recompute(slices.Clone(state.Items))}
}

func (c *Cart) dispatch(name string, action CartAction) {
	c.state = ReduceCart(c.state, action)
	if c.onApply != nil {
		c.onApply(name)
	}
}

// AddItem adds item or merges it into the existing line. A line that would
// leave its bounds is refused with ErrValidation and the cart is unchanged.
func (c *Cart) AddItem(item domain.CartItem) error {
	if err := checkAdd(c.state.Items, item); err != nil {
		return err
	}
	c.dispatch("add", AddItem{Item: item})
	return nil
}

func (c *Cart) RemoveItem(id int64) { c.dispatch("remove", RemoveItem{ID: id}) }

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (c *Cart) UpdateQuantity(id int64, quantity int) error {
	if quantity > domain.MaxItemQuantity {
		return &domain.ErrValidation{Field: "quantity", Message: fmt.Sprintf("must be at most %d", domain.MaxItemQuantity)}
	}
	c.dispatch("update", UpdateQuantity{ID: id, Quantity: quantity})
	return nil
}

func (c *Cart) Clear() { c.dispatch("clear", ClearCart{}) }

// ItemQuantity returns the quantity of a product in the cart, 0 when absent.
func (c *Cart) ItemQuantity(id int64) int {
	if i := indexOf(c.state.Items, id); i >= 0 {
		return c.state.Items[i].Quantity
	}
	return 0
}

// State returns a copy of the cart state.
func (c *Cart) State() domain.CartState {
	return c.state.Clone()
}
