package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nileshop/storefront-api/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, subtotal, discount, shipping_cost,
		total, coupon_code, status, payment_ref, created_at`

	createOrderSQL = `INSERT INTO orders
		(id, user_id, items, subtotal, discount, shipping_cost, total, coupon_code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	// Guarded by the from-status so a stale retry cannot clobber a later
	// transition.
	updateOrderStatusSQL = `UPDATE orders SET
			status = $2,
			payment_ref = CASE WHEN $3 <> '' THEN $3 ELSE payment_ref END
		WHERE id = $1 AND status = $4`

	insertStatusHistorySQL = `INSERT INTO order_status_history (order_id, from_status, to_status, note)
		VALUES ($1, $2, $3, $4)`

	listOrdersBetweenSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at`

	orderHistorySQL = `SELECT order_id, from_status, to_status, note
		FROM order_status_history WHERE order_id = $1 ORDER BY id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Order
// items are stored denormalized as a JSONB document since they are an
// immutable snapshot taken at placement time.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encoding order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, items, o.Subtotal, o.Discount, o.ShippingCost,
		o.Total, o.CouponCode, string(o.Status),
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus applies the status change and appends a history row in one
// transaction. Returns an InvalidTransitionError when the order is no longer
// in the expected from-status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, change order.StatusChange) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("updating order %q status: begin: %w", change.OrderID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, updateOrderStatusSQL,
		change.OrderID, string(change.To), change.PaymentRef, string(change.From),
	)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", change.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return &order.InvalidTransitionError{From: change.From, To: change.To}
	}

	_, err = tx.Exec(ctx, insertStatusHistorySQL,
		change.OrderID, string(change.From), string(change.To), change.Note,
	)
	if err != nil {
		return fmt.Errorf("recording order %q status history: %w", change.OrderID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("updating order %q status: commit: %w", change.OrderID, err)
	}
	return nil
}

// ListCreatedBetween returns orders created in [from, to), oldest first.
func (r *OrderRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// History returns the status transitions of an order in chronological order.
func (r *OrderRepository) History(ctx context.Context, orderID string) ([]order.StatusChange, error) {
	rows, err := r.pool.Query(ctx, orderHistorySQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q history: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusChange, error) {
		var (
			c        order.StatusChange
			from, to string
		)
		err := row.Scan(&c.OrderID, &from, &to, &c.Note)
		c.From = order.Status(from)
		c.To = order.Status(to)
		return c, err
	})
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		items  []byte
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &o.Subtotal, &o.Discount, &o.ShippingCost,
		&o.Total, &o.CouponCode, &status, &o.PaymentRef, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("decoding order items: %w", err)
	}
	return o, nil
}
