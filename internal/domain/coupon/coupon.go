package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage applies a percentage of the subtotal as the discount.
	TypePercentage Type = "percentage"
	// TypeFixed applies a fixed monetary discount capped at the subtotal.
	TypeFixed Type = "fixed"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or the
	// coupon is disabled.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrExpired is returned when a coupon is past its end date.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when a coupon has exhausted its total
	// or per-user redemption allowance.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// Coupon is a code-activated discount rule with eligibility constraints.
// MinOrderAmount of zero means no floor; a nil EndDate never expires;
// UserLimit and MaxUses of zero are unlimited.
type Coupon struct {
	ID             string
	Code           string
	Type           Type
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	EndDate        *time.Time
	UserLimit      int
	MaxUses        int
	Uses           int
	Enabled        bool
	CreatedAt      time.Time
}

// Active reports whether the coupon is enabled and not past its end date.
func (c *Coupon) Active(now time.Time) bool {
	if !c.Enabled {
		return false
	}
	return c.EndDate == nil || c.EndDate.After(now)
}

// Repository provides coupon lookups, redemption tracking, and admin CRUD.
type Repository interface {
	// FindActiveByCode looks up a coupon by code (case-insensitive),
	// filtering out disabled and expired rows. Returns ErrInvalidCoupon
	// when no active coupon matches.
	FindActiveByCode(ctx context.Context, code string) (*Coupon, error)

	// CountRedemptionsByUser returns how many times the given user has
	// redeemed the coupon.
	CountRedemptionsByUser(ctx context.Context, code, userID string) (int, error)

	// Redeem records a redemption against an order and increments the
	// coupon's usage counter.
	Redeem(ctx context.Context, code, userID, orderID string) error

	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Coupon, error)
}
