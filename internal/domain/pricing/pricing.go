// Package pricing computes order totals. All arithmetic uses decimal values;
// monetary results are rounded half-up to two decimal places.
package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/nileshop/storefront-api/internal/domain/coupon"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// ErrInvalidCoupon is returned when a coupon has an unrecognized type.
var ErrInvalidCoupon = errors.New("unrecognized coupon type")

// InvalidLineItemError indicates a line item with a negative unit price or a
// non-positive quantity.
type InvalidLineItemError struct {
	Index  int
	Reason string
}

func (e *InvalidLineItemError) Error() string {
	return fmt.Sprintf("line item %d: %s", e.Index, e.Reason)
}

// LineItem is one priced cart line.
type LineItem struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Totals holds the result of a total computation.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotal calculates the subtotal, coupon discount, and payable total
// for the given line items. The coupon, when non-nil, must already have been
// resolved as active by the caller; ComputeTotal only enforces the minimum
// order amount, which is an inclusive floor. The discount never exceeds the
// subtotal, so the pre-shipping total is never negative. A nil coupon is not
// an error and yields a zero discount.
func ComputeTotal(items []LineItem, c *coupon.Coupon, shippingCost decimal.Decimal) (Totals, error) {
	for i, item := range items {
		if item.UnitPrice.IsNegative() {
			return Totals{}, &InvalidLineItemError{Index: i, Reason: "negative unit price"}
		}
		if item.Quantity < 1 {
			return Totals{}, &InvalidLineItemError{Index: i, Reason: "quantity must be at least 1"}
		}
	}

	subtotal := zero
	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
	}

	discount, err := computeDiscount(subtotal, c)
	if err != nil {
		return Totals{}, err
	}
	discount = discount.Round(2)

	return Totals{
		Subtotal: subtotal.Round(2),
		Discount: discount,
		Total:    subtotal.Sub(discount).Add(shippingCost).Round(2),
	}, nil
}

func computeDiscount(subtotal decimal.Decimal, c *coupon.Coupon) (decimal.Decimal, error) {
	if c == nil {
		return zero, nil
	}
	// Inclusive floor: a subtotal exactly at the minimum qualifies.
	if c.MinOrderAmount.IsPositive() && subtotal.LessThan(c.MinOrderAmount) {
		return zero, nil
	}

	switch c.Type {
	case coupon.TypePercentage:
		// Percentage values are expected in [0,100]; clamp the result so
		// malformed data cannot produce a negative or oversized discount.
		d := subtotal.Mul(c.Value).Div(hundred)
		return clamp(d, zero, subtotal), nil
	case coupon.TypeFixed:
		return clamp(c.Value, zero, subtotal), nil
	default:
		return zero, errors.Wrapf(ErrInvalidCoupon, "type %q", c.Type)
	}
}

func clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}
