package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/campus-delivery/internal/domain"
)

// CreditResult reports the outcome of an atomic experience/coin credit.
type CreditResult struct {
	XP        int64
	Coins     int64
	Level     int
	LeveledUp bool
}

// UserRepository defines persistence access for registered users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateCampus(ctx context.Context, id int64, campus string) error
	UpdateLanguage(ctx context.Context, id int64, language string) error
	TouchLastActive(ctx context.Context, id int64) error
	// Credit applies both deltas and recomputes level in one atomic
	// read-modify-write against the user row.
	Credit(ctx context.Context, id int64, xpDelta, coinDelta, levelThreshold int64) (*CreditResult, error)
	TopByXP(ctx context.Context, limit int) ([]domain.User, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.User, error)
	MarkInactive(ctx context.Context, id int64) error
	CountRegisteredSince(ctx context.Context, since time.Time) (int64, error)
	CountActiveSince(ctx context.Context, since time.Time) (int64, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `telegram_id, first_name, last_name, phone, campus, language,
               xp, coins, level, total_deliveries, status, created_at, last_active_at`

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id=$1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanUser(row)
}

func (r *userRepository) UpdateCampus(ctx context.Context, id int64, campus string) error {
	const query = `UPDATE users SET campus=$1, last_active_at=NOW() WHERE telegram_id=$2`
	cmd, err := r.pool.Exec(ctx, query, campus, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) UpdateLanguage(ctx context.Context, id int64, language string) error {
	const query = `UPDATE users SET language=$1, last_active_at=NOW() WHERE telegram_id=$2`
	cmd, err := r.pool.Exec(ctx, query, language, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) TouchLastActive(ctx context.Context, id int64) error {
	const query = `UPDATE users SET last_active_at=NOW(), status='ACTIVE' WHERE telegram_id=$1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *userRepository) Credit(ctx context.Context, id int64, xpDelta, coinDelta, levelThreshold int64) (*CreditResult, error) {
	if levelThreshold <= 0 {
		levelThreshold = 100
	}
	// Level recomputation is part of the same statement as the xp
	// mutation, never a separate step.
	const query = `
        UPDATE users
        SET xp = xp + $2,
            coins = coins + $3,
            level = (xp + $2) / $4 + 1,
            last_active_at = NOW()
        WHERE telegram_id = $1
        RETURNING xp, coins, level`

	var result CreditResult
	if err := r.pool.QueryRow(ctx, query, id, xpDelta, coinDelta, levelThreshold).Scan(
		&result.XP,
		&result.Coins,
		&result.Level,
	); err != nil {
		return nil, err
	}
	oldLevel := domain.LevelForXP(result.XP-xpDelta, levelThreshold)
	result.LeveledUp = result.Level > oldLevel
	return &result, nil
}

func (r *userRepository) TopByXP(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + userColumns + `
        FROM users
        ORDER BY xp DESC, created_at ASC
        LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *userRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + userColumns + `
        FROM users
        WHERE last_active_at < $1 AND status = 'ACTIVE'
        ORDER BY last_active_at ASC
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *userRepository) MarkInactive(ctx context.Context, id int64) error {
	const query = `UPDATE users SET status='INACTIVE' WHERE telegram_id=$1 AND status='ACTIVE'`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *userRepository) CountRegisteredSince(ctx context.Context, since time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM users WHERE created_at >= $1`
	var count int64
	err := r.pool.QueryRow(ctx, query, since).Scan(&count)
	return count, err
}

func (r *userRepository) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM users WHERE last_active_at >= $1`
	var count int64
	err := r.pool.QueryRow(ctx, query, since).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.TelegramID,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.Campus,
		&user.Language,
		&user.XP,
		&user.Coins,
		&user.Level,
		&user.TotalDeliveries,
		&user.Status,
		&user.CreatedAt,
		&user.LastActiveAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	var result []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *user)
	}
	return result, rows.Err()
}
