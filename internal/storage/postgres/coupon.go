package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nileshop/storefront-api/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, value, min_order_amount,
		end_date, user_limit, max_uses, uses, enabled, created_at`

	// "Active" filtering is the store's responsibility: disabled and
	// expired coupons never reach the resolver.
	findActiveCouponSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE UPPER(code) = UPPER($1)
		  AND enabled = TRUE
		  AND (end_date IS NULL OR end_date > now())`

	countRedemptionsSQL = `SELECT COUNT(*) FROM coupon_redemptions
		WHERE coupon_code = $1 AND user_id = $2`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (coupon_code, user_id, order_id)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`

	incrementUsesSQL = `UPDATE coupons SET uses = uses + 1 WHERE UPPER(code) = UPPER($1)`

	createCouponSQL = `INSERT INTO coupons
		(id, code, discount_type, value, min_order_amount, end_date, user_limit, max_uses, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	updateCouponSQL = `UPDATE coupons SET
			code = $2,
			discount_type = $3,
			value = $4,
			min_order_amount = $5,
			end_date = $6,
			user_limit = $7,
			max_uses = $8,
			enabled = $9
		WHERE id = $1`

	upsertCouponByCodeSQL = `INSERT INTO coupons
		(id, code, discount_type, value, min_order_amount, end_date, user_limit, max_uses, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (UPPER(code)) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			end_date = EXCLUDED.end_date,
			user_limit = EXCLUDED.user_limit,
			max_uses = EXCLUDED.max_uses,
			enabled = EXCLUDED.enabled`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindActiveByCode looks up an enabled, unexpired coupon by its code
// (case-insensitive). Returns coupon.ErrInvalidCoupon when no matching
// active coupon exists.
func (r *CouponRepository) FindActiveByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findActiveCouponSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// CountRedemptionsByUser returns how many times the given user has redeemed
// the coupon.
func (r *CouponRepository) CountRedemptionsByUser(ctx context.Context, code, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countRedemptionsSQL, code, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting redemptions for coupon %q: %w", code, err)
	}
	return count, nil
}

// Redeem records a redemption and increments the coupon's usage counter in
// one transaction.
func (r *CouponRepository) Redeem(ctx context.Context, code, userID, orderID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("redeeming coupon %q: begin: %w", code, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertRedemptionSQL, code, userID, orderID); err != nil {
		return fmt.Errorf("redeeming coupon %q: insert: %w", code, err)
	}
	if _, err := tx.Exec(ctx, incrementUsesSQL, code); err != nil {
		return fmt.Errorf("redeeming coupon %q: increment: %w", code, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("redeeming coupon %q: commit: %w", code, err)
	}
	return nil
}

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.ID, c.Code, string(c.Type), c.Value, c.MinOrderAmount,
		c.EndDate, c.UserLimit, c.MaxUses, c.Enabled,
	)
	if err != nil {
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// UpsertByCode inserts a coupon or, when the code already exists, replaces
// its rule fields. Used by the seeding and ingest tools; usage counters are
// preserved on conflict.
func (r *CouponRepository) UpsertByCode(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponByCodeSQL,
		c.ID, c.Code, string(c.Type), c.Value, c.MinOrderAmount,
		c.EndDate, c.UserLimit, c.MaxUses, c.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update rewrites an existing coupon's rule fields. The usage counter is
// never reset from here.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, string(c.Type), c.Value, c.MinOrderAmount,
		c.EndDate, c.UserLimit, c.MaxUses, c.Enabled,
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrInvalidCoupon
	}
	return nil
}

// Delete removes a coupon.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrInvalidCoupon
	}
	return nil
}

// List returns all coupons, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c              coupon.Coupon
		discountType   string
		value          decimal.Decimal
		minOrderAmount decimal.Decimal
		endDate        *time.Time
		userLimit      int32
		maxUses        int32
		uses           int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &value, &minOrderAmount,
		&endDate, &userLimit, &maxUses, &uses, &c.Enabled, &c.CreatedAt,
	)
	c.Type = coupon.Type(discountType)
	c.Value = value
	c.MinOrderAmount = minOrderAmount
	c.EndDate = endDate
	c.UserLimit = int(userLimit)
	c.MaxUses = int(maxUses)
	c.Uses = int(uses)
	return c, err
}
