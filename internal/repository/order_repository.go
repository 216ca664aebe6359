package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/campus-delivery/internal/domain"
)

// ErrStatusConflict is returned by Transition when the order exists but its
// status no longer matches the expected value (optimistic guard failure).
var ErrStatusConflict = errors.New("order status changed concurrently")

// ErrRatingConflict is returned by AttachRating when the order is not in a
// ratable state or already carries a rating.
var ErrRatingConflict = errors.New("order cannot be rated")

// TransitionEffects describe side effects applied atomically with a status
// write. The reward credit, when present, shares the transaction with the
// order update so neither can be observed without the other.
type TransitionEffects struct {
	SetCourierID *int64
	ClearCourier bool

	CreditUserID        int64
	CreditXP            int64
	CreditCoins         int64
	LevelThreshold      int64
	IncrementDeliveries bool
}

// OrderRepository encapsulates order persistence.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	ListActiveByRequester(ctx context.Context, requesterID int64) ([]domain.Order, error)
	// Transition performs a conditional status write guarded on the
	// expected prior status, applying effects in the same transaction.
	Transition(ctx context.Context, orderID int64, expected, next domain.OrderStatus, effects *TransitionEffects) (*domain.Order, *CreditResult, error)
	AttachRating(ctx context.Context, orderID int64, rating int) (*domain.Order, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)
}

type orderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository instantiates repository.
func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &orderRepository{pool: pool}
}

const orderColumns = `id, requester_id, courier_id, pickup, dropoff, item, status, rating, created_at, updated_at`

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	const query = `
        INSERT INTO orders (requester_id, pickup, dropoff, item, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		order.RequesterID,
		order.Pickup,
		order.Dropoff,
		order.Item,
		order.Status,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

func (r *orderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanOrder(row)
}

func (r *orderRepository) ListActiveByRequester(ctx context.Context, requesterID int64) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + `
        FROM orders
        WHERE requester_id=$1 AND status NOT IN ('DELIVERED','CANCELLED')
        ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, requesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *orderRepository) Transition(ctx context.Context, orderID int64, expected, next domain.OrderStatus, effects *TransitionEffects) (*domain.Order, *CreditResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `UPDATE orders SET status=$3, updated_at=NOW()`
	args := []any{orderID, expected, next}
	if effects != nil {
		switch {
		case effects.SetCourierID != nil:
			args = append(args, *effects.SetCourierID)
			query += `, courier_id=$4`
		case effects.ClearCourier:
			query += `, courier_id=NULL`
		}
	}
	query += ` WHERE id=$1 AND status=$2 RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, r.classifyMiss(ctx, orderID)
		}
		return nil, nil, err
	}

	var credit *CreditResult
	if effects != nil && (effects.CreditXP != 0 || effects.CreditCoins != 0 || effects.IncrementDeliveries) {
		credit, err = applyCredit(ctx, tx, effects)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return order, credit, nil
}

// classifyMiss distinguishes a missing order from a guard failure.
func (r *orderRepository) classifyMiss(ctx context.Context, orderID int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return pgx.ErrNoRows
	}
	return ErrStatusConflict
}

func applyCredit(ctx context.Context, tx pgx.Tx, effects *TransitionEffects) (*CreditResult, error) {
	threshold := effects.LevelThreshold
	if threshold <= 0 {
		threshold = 100
	}
	deliveries := 0
	if effects.IncrementDeliveries {
		deliveries = 1
	}
	const query = `
        UPDATE users
        SET xp = xp + $2,
            coins = coins + $3,
            level = (xp + $2) / $4 + 1,
            total_deliveries = total_deliveries + $5,
            last_active_at = NOW()
        WHERE telegram_id = $1
        RETURNING xp, coins, level`

	var result CreditResult
	if err := tx.QueryRow(ctx, query,
		effects.CreditUserID,
		effects.CreditXP,
		effects.CreditCoins,
		threshold,
		deliveries,
	).Scan(&result.XP, &result.Coins, &result.Level); err != nil {
		return nil, err
	}
	result.LeveledUp = result.Level > domain.LevelForXP(result.XP-effects.CreditXP, threshold)
	return &result, nil
}

func (r *orderRepository) AttachRating(ctx context.Context, orderID int64, rating int) (*domain.Order, error) {
	query := `UPDATE orders SET rating=$2, updated_at=NOW()
        WHERE id=$1 AND status='DELIVERED' AND rating IS NULL
        RETURNING ` + orderColumns
	order, err := scanOrder(r.pool.QueryRow(ctx, query, orderID, rating))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if probeErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); probeErr != nil {
				return nil, probeErr
			}
			if !exists {
				return nil, pgx.ErrNoRows
			}
			return nil, ErrRatingConflict
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM orders WHERE created_at >= $1`
	var count int64
	err := r.pool.QueryRow(ctx, query, since).Scan(&count)
	return count, err
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	if err := row.Scan(
		&order.ID,
		&order.RequesterID,
		&order.CourierID,
		&order.Pickup,
		&order.Dropoff,
		&order.Item,
		&order.Status,
		&order.Rating,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &order, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	var result []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *order)
	}
	return result, rows.Err()
}
