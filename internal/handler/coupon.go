package handler

import (
	"encoding/json"
	"net/http"

	"github.com/nileshop/storefront-api/internal/domain/order"
)

type validateCouponReq struct {
	CouponCode string         `json:"coupon_code"`
	Items      []orderItemReq `json:"items"`
}

type validateCouponResp struct {
	Valid    bool    `json:"valid"`
	Reason   string  `json:"reason,omitempty"`
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

// ValidateCoupon prices a prospective cart with the given coupon without
// placing an order. Unlike order placement, a rejected coupon is reported
// back with its reason so the storefront can show it.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CouponCode == "" {
		respondError(w, r, http.StatusBadRequest, "coupon_code required")
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
	}

	quote, err := h.orderService.Quote(r.Context(), order.PlaceOrderRequest{
		UserID:     subjectFromContext(r),
		Items:      items,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	resp := validateCouponResp{
		Valid:    quote.Coupon != nil,
		Subtotal: quote.Totals.Subtotal.InexactFloat64(),
		Discount: quote.Totals.Discount.InexactFloat64(),
		Total:    quote.Totals.Total.InexactFloat64(),
	}
	if quote.CouponErr != nil {
		resp.Reason = quote.CouponErr.Error()
	}
	respondJSON(w, r, http.StatusOK, resp)
}
