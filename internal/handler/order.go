package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/nileshop/storefront-api/internal/domain/auth"
	"github.com/nileshop/storefront-api/internal/domain/order"
)

type orderItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type placeOrderReq struct {
	Items      []orderItemReq `json:"items"`
	CouponCode string         `json:"coupon_code"`
}

type orderItemView struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

type orderView struct {
	ID           string          `json:"id"`
	Items        []orderItemView `json:"items"`
	Subtotal     float64         `json:"subtotal"`
	Discount     float64         `json:"discount"`
	ShippingCost float64         `json:"shipping_cost"`
	Total        float64         `json:"total"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// PlaceOrder decodes the request, delegates to the order service, and maps
// the result (or error) to a response.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
	}

	result, err := h.orderService.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		UserID:     subjectFromContext(r),
		Items:      items,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, toOrderView(result.Order))
}

// GetOrder returns a single order. Storefront callers can only read their
// own orders; admin-scoped callers can read any.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orderService.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "order not found")
			return
		}
		respondInternalError(w, r, err)
		return
	}

	if id, ok := IdentityFromContext(r.Context()); ok {
		if !id.HasScope(auth.ScopeAdmin) && o.UserID != "" && o.UserID != id.Subject {
			respondError(w, r, http.StatusNotFound, "order not found")
			return
		}
	}

	respondJSON(w, r, http.StatusOK, toOrderView(o))
}

// respondOrderError converts domain errors from order placement to responses.
func (h *Handler) respondOrderError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, order.ErrEmptyItems) {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var iqErr *order.InvalidQuantityError
	if errors.As(err, &iqErr) {
		respondError(w, r, http.StatusUnprocessableEntity, iqErr.Error())
		return
	}

	var pnfErr *order.ProductNotFoundError
	if errors.As(err, &pnfErr) {
		respondError(w, r, http.StatusUnprocessableEntity, pnfErr.Error())
		return
	}

	respondInternalError(w, r, err)
}

func toOrderView(o *order.Order) orderView {
	items := make([]orderItemView, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemView{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.InexactFloat64(),
			Quantity:  item.Quantity,
		}
	}
	return orderView{
		ID:           o.ID,
		Items:        items,
		Subtotal:     o.Subtotal.InexactFloat64(),
		Discount:     o.Discount.InexactFloat64(),
		ShippingCost: o.ShippingCost.InexactFloat64(),
		Total:        o.Total.InexactFloat64(),
		CouponCode:   o.CouponCode,
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
	}
}

// subjectFromContext returns the authenticated subject, or empty for flows
// without a user-bound token.
func subjectFromContext(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return id.Subject
	}
	return ""
}
