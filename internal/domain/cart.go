package domain

import "slices"

// ============================================================
// Cart
// ============================================================

// Per-line bounds. They keep totals finite and quantities far from int overflow.
const (
	MaxItemQuantity = 9999
	MaxItemPrice    = 100000
)

// CartItem is one line of the cart. Subtotal is derived from Price and
// Quantity and is never set by callers.
type CartItem struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Unit         string  `json:"unit"`
	Quantity     int     `json:"quantity"`
	Category     string  `json:"category"`
	Image        string  `json:"image"`
	ProducerID   int64   `json:"producerId"`
	ProducerName string  `json:"producerName"`
	Subtotal     float64 `json:"subtotal"`
}

// CartState holds the line items and the totals derived from them.
type CartState struct {
	Items      []CartItem `json:"items"`
	TotalItems int        `json:"totalItems"`
	TotalPrice float64    `json:"totalPrice"`
}

// Clone returns a copy whose Items slice is not shared with s.
func (s CartState) Clone() CartState {
	out := s
	out.Items = slices.Clone(s.Items)
	return out
}

// AddCartItemRequest is the body for POST /v1/cart/items.
type AddCartItemRequest struct {
	ID           int64   `json:"id" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	Price        float64 `json:"price" validate:"gte=0,lte=100000"`
	Unit         string  `json:"unit"`
	Quantity     int     `json:"quantity" validate:"required,min=1,max=9999"`
	Category     string  `json:"category"`
	Image        string  `json:"image"`
	ProducerID   int64   `json:"producerId"`
	ProducerName string  `json:"producerName"`
}

// ToItem converts the request into a cart line without a subtotal.
func (r AddCartItemRequest) ToItem() CartItem {
	return CartItem{
		ID:           r.ID,
		Name:         r.Name,
		Price:        r.Price,
		Unit:         r.Unit,
		Quantity:     r.Quantity,
		Category:     r.Category,
		Image:        r.Image,
		ProducerID:   r.ProducerID,
		ProducerName: r.ProducerName,
	}
}

// UpdateQuantityRequest is the body for PUT /v1/cart/items/{itemId}.
// An explicit zero or negative quantity removes the line.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,max=9999"`
}

// ItemQuantityResponse is returned by GET /v1/cart/items/{itemId}/quantity.
type ItemQuantityResponse struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}
