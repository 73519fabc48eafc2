package handler

import (
	"net/http"
	"strconv"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Cart
// ============================================================

// cartAction applies fn to the session's cart and returns the saved session.
func cartAction(w http.ResponseWriter, r *http.Request, reg *service.Registry, logger *zap.Logger, fn func(*service.Cart) error) (*domain.Session, bool) {
	ctx := r.Context()
	s, err := reg.Do(ctx, SessionIDFromContext(ctx), func(_ *service.SessionManager, c *service.Cart) error {
		return fn(c)
	})
	if err != nil {
		handleServiceError(w, err, logger)
		return nil, false
	}
	return s, true
}

func itemIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

// getCartHandler serves the cart screen, which needs a signed-in session.
// Anonymous sessions get 401 with the login route.
func getCartHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cart")
		defer span.End()

		s, err := reg.Get(ctx, SessionIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		nav := &responseNavigator{}
		if !service.RequireSignedIn(s.State, nav) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "sign-in required", Redirect: nav.route})
			return
		}
		writeJSON(w, http.StatusOK, s.Cart)
	}
}

func addCartItemHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/cart/items")
		defer span.End()

		var req domain.AddCartItemRequest
		if err := decodeAndValidate(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		s, ok := cartAction(w, r, reg, logger, func(c *service.Cart) error {
			return c.AddItem(req.ToItem())
		})
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Cart)
	}
}

func updateCartItemHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "PUT /v1/cart/items/{itemId}")
		defer span.End()

		id, ok := itemIDParam(w, r)
		if !ok {
			return
		}
		var req domain.UpdateQuantityRequest
		if err := decodeAndValidate(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		s, ok := cartAction(w, r, reg, logger, func(c *service.Cart) error {
			return c.UpdateQuantity(id, *req.Quantity)
		})
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Cart)
	}
}

func removeCartItemHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "DELETE /v1/cart/items/{itemId}")
		defer span.End()

		id, ok := itemIDParam(w, r)
		if !ok {
			return
		}

		s, ok := cartAction(w, r, reg, logger, func(c *service.Cart) error {
			c.RemoveItem(id)
			return nil
		})
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Cart)
	}
}

func cartItemQuantityHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/cart/items/{itemId}/quantity")
		defer span.End()

		id, ok := itemIDParam(w, r)
		if !ok {
			return
		}

		var qty int
		if _, ok := cartAction(w, r, reg, logger, func(c *service.Cart) error {
			qty = c.ItemQuantity(id)
			return nil
		}); !ok {
			return
		}
		writeJSON(w, http.StatusOK, domain.ItemQuantityResponse{ID: id, Quantity: qty})
	}
}

func clearCartHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "DELETE /v1/cart")
		defer span.End()

		s, ok := cartAction(w, r, reg, logger, func(c *service.Cart) error {
			c.Clear()
			return nil
		})
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Cart)
	}
}
