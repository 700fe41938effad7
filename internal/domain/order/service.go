package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nileshop/storefront-api/internal/domain/catalog"
	"github.com/nileshop/storefront-api/internal/domain/coupon"
	"github.com/nileshop/storefront-api/internal/domain/pricing"
)

// ItemRequest is one requested line in an order or quote.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID     string
	Items      []ItemRequest
	CouponCode string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []catalog.Product
}

// QuoteResult is a non-persisting total computation for the cart page.
// CouponErr carries the reason a supplied coupon code was not applied;
// the totals are then computed as if no coupon were given.
type QuoteResult struct {
	Totals    pricing.Totals
	Coupon    *coupon.Coupon
	CouponErr error
}

// Service encapsulates order placement and lifecycle business logic.
type Service struct {
	products     catalog.Repository
	coupons      coupon.Resolver
	orders       Repository
	shippingCost decimal.Decimal
}

// NewService creates an order Service. shippingCost is the flat surcharge
// applied to every delivered order.
func NewService(
	products catalog.Repository,
	coupons coupon.Resolver,
	orders Repository,
	shippingCost decimal.Decimal,
) *Service {
	return &Service{
		products:     products,
		coupons:      coupons,
		orders:       orders,
		shippingCost: shippingCost,
	}
}

// PlaceOrder validates items, fetches products in a single batch, resolves
// and applies the coupon, computes totals, and persists the order.
//
// A coupon that is invalid, expired, or over its usage limit does not fail
// the order: the total is computed as if no coupon were supplied and the
// code is not recorded on the order. Store failures still propagate.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	items, products, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	appliedCode := req.CouponCode
	c, couponErr := s.resolveCoupon(ctx, req.CouponCode, req.UserID)
	if couponErr != nil {
		return nil, couponErr
	}
	if c == nil {
		appliedCode = ""
	}

	totals, err := pricing.ComputeTotal(items, c, s.shippingCost)
	if err != nil {
		return nil, fmt.Errorf("compute total: %w", err)
	}

	o := &Order{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		Items:        buildItems(req.Items, products),
		Subtotal:     totals.Subtotal,
		Discount:     totals.Discount,
		ShippingCost: s.shippingCost,
		Total:        totals.Total,
		CouponCode:   appliedCode,
		Status:       StatusPending,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// A coupon below its minimum order amount resolves but yields no
	// discount; it must not consume a redemption.
	if c != nil && totals.Discount.IsPositive() {
		if err := s.coupons.Redeem(ctx, c.Code, req.UserID, o.ID); err != nil {
			zctx.From(ctx).Warn("coupon redemption not recorded",
				zap.String("coupon", c.Code),
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}

	return &PlaceOrderResult{Order: o, Products: products}, nil
}

// Quote computes totals for a prospective order without persisting anything.
// Unlike PlaceOrder it reports why a coupon was rejected, so the storefront
// can tell the shopper.
func (s *Service) Quote(ctx context.Context, req PlaceOrderRequest) (*QuoteResult, error) {
	items, _, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	res := &QuoteResult{}
	if req.CouponCode != "" {
		c, err := s.coupons.Resolve(ctx, req.CouponCode, req.UserID)
		switch {
		case err == nil:
			res.Coupon = c
		case isCouponRejection(err):
			res.CouponErr = err
		default:
			return nil, fmt.Errorf("resolve coupon: %w", err)
		}
	}

	totals, err := pricing.ComputeTotal(items, res.Coupon, s.shippingCost)
	if err != nil {
		return nil, fmt.Errorf("compute total: %w", err)
	}
	res.Totals = totals

	if res.Coupon != nil && res.Coupon.MinOrderAmount.IsPositive() &&
		totals.Subtotal.LessThan(res.Coupon.MinOrderAmount) {
		res.CouponErr = fmt.Errorf("minimum order amount %s not met", res.Coupon.MinOrderAmount)
		res.Coupon = nil
	}

	return res, nil
}

// Get returns a single order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ListCreatedBetween returns orders created in [from, to).
func (s *Service) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	return s.orders.ListCreatedBetween(ctx, from, to)
}

// History returns an order's status transitions in chronological order.
func (s *Service) History(ctx context.Context, orderID string) ([]StatusChange, error) {
	return s.orders.History(ctx, orderID)
}

// MarkPaid transitions an order to paid after a verified payment callback.
// It is idempotent: marking an already-paid order succeeds without effect,
// so provider callback retries are safe.
func (s *Service) MarkPaid(ctx context.Context, orderID, paymentRef string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status == StatusPaid {
		return nil
	}
	if !CanTransition(o.Status, StatusPaid) {
		return &InvalidTransitionError{From: o.Status, To: StatusPaid}
	}

	return s.orders.UpdateStatus(ctx, StatusChange{
		OrderID:    orderID,
		From:       o.Status,
		To:         StatusPaid,
		Note:       "payment confirmed",
		PaymentRef: paymentRef,
	})
}

// Transition applies an admin-triggered status change, validating it
// against the order state machine.
func (s *Service) Transition(ctx context.Context, orderID string, to Status, note string) error {
	if !to.Valid() {
		return &InvalidTransitionError{To: to}
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}

	return s.orders.UpdateStatus(ctx, StatusChange{
		OrderID: orderID,
		From:    o.Status,
		To:      to,
		Note:    note,
	})
}

// resolveItems validates quantities and batch-fetches the referenced
// products, returning pricing line items and the products in request order.
func (s *Service) resolveItems(ctx context.Context, reqs []ItemRequest) ([]pricing.LineItem, []catalog.Product, error) {
	if len(reqs) == 0 {
		return nil, nil, ErrEmptyItems
	}

	ids := make([]string, len(reqs))
	for i, item := range reqs {
		if item.Quantity <= 0 {
			return nil, nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("get products: %w", err)
	}

	byID := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]pricing.LineItem, len(reqs))
	products := make([]catalog.Product, len(reqs))
	for i, req := range reqs {
		p, ok := byID[req.ProductID]
		if !ok {
			return nil, nil, &ProductNotFoundError{ProductID: req.ProductID}
		}
		products[i] = p
		items[i] = pricing.LineItem{UnitPrice: p.Price, Quantity: req.Quantity}
	}

	return items, products, nil
}

// resolveCoupon resolves a coupon code for order placement. Rejections
// (invalid, expired, over limit) degrade to "no coupon"; only store
// failures are returned as errors.
func (s *Service) resolveCoupon(ctx context.Context, code, userID string) (*coupon.Coupon, error) {
	if code == "" {
		return nil, nil
	}

	c, err := s.coupons.Resolve(ctx, code, userID)
	if err != nil {
		if isCouponRejection(err) {
			zctx.From(ctx).Info("coupon not applied",
				zap.String("coupon", code),
				zap.String("reason", err.Error()),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("resolve coupon: %w", err)
	}
	return c, nil
}

func isCouponRejection(err error) bool {
	return errors.Is(err, coupon.ErrInvalidCoupon) ||
		errors.Is(err, coupon.ErrExpired) ||
		errors.Is(err, coupon.ErrUsageLimitReached)
}

func buildItems(reqs []ItemRequest, products []catalog.Product) []Item {
	items := make([]Item, len(reqs))
	for i, req := range reqs {
		items[i] = Item{
			ProductID: req.ProductID,
			Name:      products[i].Name,
			UnitPrice: products[i].Price,
			Quantity:  req.Quantity,
		}
	}
	return items
}
