package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Resolver resolves a coupon code to an active, redeemable coupon for a
// given user. It performs every eligibility check except the minimum order
// amount, which depends on the cart subtotal and belongs to the pricing
// engine.
type Resolver interface {
	Resolve(ctx context.Context, code, userID string) (*Coupon, error)
	Redeem(ctx context.Context, code, userID, orderID string) error
}

// RepoResolver implements Resolver on top of a Repository.
type RepoResolver struct {
	repo Repository
	now  func() time.Time
}

// NewRepoResolver creates a RepoResolver backed by the given Repository.
func NewRepoResolver(repo Repository) *RepoResolver {
	return &RepoResolver{repo: repo, now: time.Now}
}

// Resolve looks up the coupon and checks that it is enabled, not expired,
// and within its total and per-user usage limits. The repository already
// filters disabled and expired rows; the checks are repeated here so the
// decision does not depend on clock skew between process and database.
func (r *RepoResolver) Resolve(ctx context.Context, code, userID string) (*Coupon, error) {
	c, err := r.repo.FindActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := r.now()

	if !c.Enabled {
		return nil, ErrInvalidCoupon
	}
	if c.EndDate != nil && !c.EndDate.After(now) {
		return nil, ErrExpired
	}
	if c.MaxUses > 0 && c.Uses >= c.MaxUses {
		return nil, ErrUsageLimitReached
	}

	if c.UserLimit > 0 && userID != "" {
		used, err := r.repo.CountRedemptionsByUser(ctx, c.Code, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count redemptions")
		}
		if used >= c.UserLimit {
			return nil, ErrUsageLimitReached
		}
	}

	return c, nil
}

// Redeem records a redemption for the given order.
func (r *RepoResolver) Redeem(ctx context.Context, code, userID, orderID string) error {
	if err := r.repo.Redeem(ctx, code, userID, orderID); err != nil {
		return errors.Wrap(err, "redeem coupon")
	}
	return nil
}
