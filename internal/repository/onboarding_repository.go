package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/campus-delivery/internal/domain"
)

// OnboardingRepository persists mid-flow registration state.
type OnboardingRepository interface {
	Get(ctx context.Context, telegramID int64) (*domain.OnboardingState, error)
	Upsert(ctx context.Context, state *domain.OnboardingState) error
	Delete(ctx context.Context, telegramID int64) error
	// Finalize creates the User from the accumulated partial data, grants
	// the registration reward and deletes the onboarding row in a single
	// transaction. The returned bool is false when the user already
	// existed, in which case no reward is granted (exactly-once under
	// replay of the final step).
	Finalize(ctx context.Context, state *domain.OnboardingState, campus string, rewardXP, rewardCoins, levelThreshold int64) (*domain.User, bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type onboardingRepository struct {
	pool *pgxpool.Pool
}

// NewOnboardingRepository instantiates repository.
func NewOnboardingRepository(pool *pgxpool.Pool) OnboardingRepository {
	return &onboardingRepository{pool: pool}
}

func (r *onboardingRepository) Get(ctx context.Context, telegramID int64) (*domain.OnboardingState, error) {
	const query = `
        SELECT telegram_id, step, first_name, last_name, language, phone, created_at, updated_at
        FROM onboarding_states WHERE telegram_id=$1`
	var state domain.OnboardingState
	if err := r.pool.QueryRow(ctx, query, telegramID).Scan(
		&state.TelegramID,
		&state.Step,
		&state.FirstName,
		&state.LastName,
		&state.Language,
		&state.Phone,
		&state.CreatedAt,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *onboardingRepository) Upsert(ctx context.Context, state *domain.OnboardingState) error {
	const query = `
        INSERT INTO onboarding_states (telegram_id, step, first_name, last_name, language, phone)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (telegram_id) DO UPDATE SET
            step = EXCLUDED.step,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            language = EXCLUDED.language,
            phone = EXCLUDED.phone,
            updated_at = NOW()
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		state.TelegramID,
		state.Step,
		state.FirstName,
		state.LastName,
		state.Language,
		state.Phone,
	).Scan(&state.CreatedAt, &state.UpdatedAt)
}

func (r *onboardingRepository) Delete(ctx context.Context, telegramID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM onboarding_states WHERE telegram_id=$1`, telegramID)
	return err
}

func (r *onboardingRepository) Finalize(ctx context.Context, state *domain.OnboardingState, campus string, rewardXP, rewardCoins, levelThreshold int64) (*domain.User, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insert = `
        INSERT INTO users (telegram_id, first_name, last_name, phone, campus, language, xp, coins, level)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (telegram_id) DO NOTHING
        RETURNING ` + userColumns

	language := state.Language
	if language == "" {
		language = "en"
	}
	created := true
	user, err := scanUser(tx.QueryRow(ctx, insert,
		state.TelegramID,
		state.FirstName,
		state.LastName,
		state.Phone,
		campus,
		language,
		rewardXP,
		rewardCoins,
		domain.LevelForXP(rewardXP, levelThreshold),
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, err
		}
		// Replay of the final step: the user is already registered, so
		// the reward must not be granted again.
		created = false
		user, err = scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1`, state.TelegramID))
		if err != nil {
			return nil, false, err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM onboarding_states WHERE telegram_id=$1`, state.TelegramID); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return user, created, nil
}

func (r *onboardingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM onboarding_states WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
