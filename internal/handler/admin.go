package handler

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nileshop/storefront-api/internal/domain/catalog"
	"github.com/nileshop/storefront-api/internal/domain/coupon"
	"github.com/nileshop/storefront-api/internal/domain/order"
)

type productReq struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  string          `json:"category_id"`
	Image       imageView       `json:"image"`
}

// UpsertProduct creates or replaces a product. The ID may come from either
// the URL or the body; the URL wins.
func (h *Handler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if id := chi.URLParam(r, "productID"); id != "" {
		req.ID = id
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	switch {
	case req.Name == "":
		respondError(w, r, http.StatusUnprocessableEntity, "name required")
		return
	case req.CategoryID == "":
		respondError(w, r, http.StatusUnprocessableEntity, "category_id required")
		return
	case req.Price.IsNegative():
		respondError(w, r, http.StatusUnprocessableEntity, "price must not be negative")
		return
	}

	p := &catalog.Product{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		CategoryID:  req.CategoryID,
		Image: catalog.Image{
			Thumbnail: req.Image.Thumbnail,
			Mobile:    req.Image.Mobile,
			Tablet:    req.Image.Tablet,
			Desktop:   req.Image.Desktop,
		},
	}
	if err := h.products.Upsert(r.Context(), p); err != nil {
		respondInternalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, h.toProductView(*p))
}

// DeleteProduct removes a product.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	err := h.products.Delete(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			respondError(w, r, http.StatusNotFound, "product not found")
			return
		}
		respondInternalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusNoContent, nil)
}

type categoryReq struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// UpsertCategory creates or replaces a category.
func (h *Handler) UpsertCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Name == "" || req.Slug == "" {
		respondError(w, r, http.StatusUnprocessableEntity, "name and slug required")
		return
	}

	c := &catalog.Category{ID: req.ID, Name: req.Name, Slug: req.Slug}
	if err := h.products.UpsertCategory(r.Context(), c); err != nil {
		respondInternalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, categoryView{ID: c.ID, Name: c.Name, Slug: c.Slug})
}

// DeleteCategory removes a category.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	err := h.products.DeleteCategory(r.Context(), chi.URLParam(r, "categoryID"))
	if err != nil {
		if errors.Is(err, catalog.ErrCategoryNotFound) {
			respondError(w, r, http.StatusNotFound, "category not found")
			return
		}
		respondInternalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusNoContent, nil)
}

type couponReq struct {
	Code           string          `json:"code"`
	Type           string          `json:"type"`
	Value          decimal.Decimal `json:"value"`
	MinOrderAmount decimal.Decimal `json:"min_order_amount"`
	EndDate        *time.Time      `json:"end_date"`
	UserLimit      int             `json:"user_limit"`
	MaxUses        int             `json:"max_uses"`
	Enabled        *bool           `json:"enabled"`
}

type couponView struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	Type           string     `json:"type"`
	Value          float64    `json:"value"`
	MinOrderAmount float64    `json:"min_order_amount"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	UserLimit      int        `json:"user_limit"`
	MaxUses        int        `json:"max_uses"`
	Uses           int        `json:"uses"`
	Enabled        bool       `json:"enabled"`
}

// validateCouponReq checks the coupon rule fields. Percentage values must be
// in (0, 100]; fixed amounts must be positive.
func validateCouponRule(req *couponReq) string {
	if req.Code == "" {
		return "code required"
	}
	switch coupon.Type(req.Type) {
	case coupon.TypePercentage:
		if !req.Value.IsPositive() || req.Value.GreaterThan(decimal.NewFromInt(100)) {
			return "percentage value must be in (0, 100]"
		}
	case coupon.TypeFixed:
		if !req.Value.IsPositive() {
			return "fixed value must be positive"
		}
	default:
		return "type must be percentage or fixed"
	}
	if req.MinOrderAmount.IsNegative() {
		return "min_order_amount must not be negative"
	}
	if req.UserLimit < 0 || req.MaxUses < 0 {
		return "limits must not be negative"
	}
	return ""
}

func couponFromReq(id string, req *couponReq) *coupon.Coupon {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &coupon.Coupon{
		ID:             id,
		Code:           req.Code,
		Type:           coupon.Type(req.Type),
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		EndDate:        req.EndDate,
		UserLimit:      req.UserLimit,
		MaxUses:        req.MaxUses,
		Enabled:        enabled,
	}
}

func toCouponView(c *coupon.Coupon) couponView {
	return couponView{
		ID:             c.ID,
		Code:           c.Code,
		Type:           string(c.Type),
		Value:          c.Value.InexactFloat64(),
		MinOrderAmount: c.MinOrderAmount.InexactFloat64(),
		EndDate:        c.EndDate,
		UserLimit:      c.UserLimit,
		MaxUses:        c.MaxUses,
		Uses:           c.Uses,
		Enabled:        c.Enabled,
	}
}

// ListCoupons returns all coupons, including disabled and expired ones.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		respondInternalError(w, r, err)
		return
	}
	views := make([]couponView, len(coupons))
	for i := range coupons {
		views[i] = toCouponView(&coupons[i])
	}
	respondJSON(w, r, http.StatusOK, views)
}

// CreateCoupon adds a new coupon rule.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateCouponRule(&req); msg != "" {
		respondError(w, r, http.StatusUnprocessableEntity, msg)
		return
	}

	c := couponFromReq(uuid.New().String(), &req)
	if err := h.coupons.Create(r.Context(), c); err != nil {
		respondInternalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, toCouponView(c))
}

// UpdateCoupon replaces a coupon's rule fields.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateCouponRule(&req); msg != "" {
		respondError(w, r, http.StatusUnprocessableEntity, msg)
		return
	}

	c := couponFromReq(chi.URLParam(r, "couponID"), &req)
	if err := h.coupons.Update(r.Context(), c); err != nil {
		if errors.Is(err, coupon.ErrInvalidCoupon) {
			respondError(w, r, http.StatusNotFound, "coupon not found")
			return
		}
		respondInternalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toCouponView(c))
}

// DeleteCoupon removes a coupon rule.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	err := h.coupons.Delete(r.Context(), chi.URLParam(r, "couponID"))
	if err != nil {
		if errors.Is(err, coupon.ErrInvalidCoupon) {
			respondError(w, r, http.StatusNotFound, "coupon not found")
			return
		}
		respondInternalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusNoContent, nil)
}

type updateStatusReq struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// UpdateOrderStatus applies an admin status change, validated against the
// order state machine.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	orderID := chi.URLParam(r, "orderID")
	err := h.orderService.Transition(r.Context(), orderID, order.Status(req.Status), req.Note)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "order not found")
			return
		}
		var itErr *order.InvalidTransitionError
		if errors.As(err, &itErr) {
			respondError(w, r, http.StatusConflict, itErr.Error())
			return
		}
		respondInternalError(w, r, err)
		return
	}

	o, err := h.orderService.Get(r.Context(), orderID)
	if err != nil {
		respondInternalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toOrderView(o))
}

// ExportOrders streams orders created in the [from, to) window as CSV.
// Defaults to the last 30 days.
func (h *Handler) ExportOrders(w http.ResponseWriter, r *http.Request) {
	to := time.Now()
	from := to.AddDate(0, 0, -30)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid from parameter")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid to parameter")
			return
		}
	}

	orders, err := h.orderService.ListCreatedBetween(r.Context(), from, to)
	if err != nil {
		respondInternalError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"id", "user_id", "created_at", "status", "coupon_code",
		"subtotal", "discount", "shipping_cost", "total", "items",
	})
	for i := range orders {
		o := &orders[i]
		_ = cw.Write([]string{
			o.ID,
			o.UserID,
			o.CreatedAt.UTC().Format(time.RFC3339),
			string(o.Status),
			o.CouponCode,
			o.Subtotal.StringFixed(2),
			o.Discount.StringFixed(2),
			o.ShippingCost.StringFixed(2),
			o.Total.StringFixed(2),
			strconv.Itoa(len(o.Items)),
		})
	}
	cw.Flush()
}
