package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/campus-delivery/internal/domain"
)

// The memory-backed repositories mirror the semantics of the Postgres
// implementations, including the conditional-write guard and the
// credit-with-status atomicity. They back tests and local development
// without a database.

// MemoryUserRepository is an in-memory UserRepository. Credit is one locked
// read-modify-write, matching the single-statement SQL update.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[int64]*domain.User
}

// NewMemoryUserRepository creates an empty store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]*domain.User)}
}

// Put seeds a user, filling defaults the schema would.
func (r *MemoryUserRepository) Put(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if cp.Status == "" {
		cp.Status = domain.UserStatusActive
	}
	if cp.Level == 0 {
		cp.Level = domain.LevelForXP(cp.XP, 100)
	}
	r.users[cp.TelegramID] = &cp
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) UpdateCampus(_ context.Context, id int64, campus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.Campus = campus
	u.LastActiveAt = time.Now()
	return nil
}

func (r *MemoryUserRepository) UpdateLanguage(_ context.Context, id int64, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.Language = language
	u.LastActiveAt = time.Now()
	return nil
}

func (r *MemoryUserRepository) TouchLastActive(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.LastActiveAt = time.Now()
	u.Status = domain.UserStatusActive
	return nil
}

func (r *MemoryUserRepository) Credit(_ context.Context, id int64, xpDelta, coinDelta, levelThreshold int64) (*CreditResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creditLocked(id, xpDelta, coinDelta, levelThreshold)
}

func (r *MemoryUserRepository) creditLocked(id int64, xpDelta, coinDelta, levelThreshold int64) (*CreditResult, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	oldLevel := domain.LevelForXP(u.XP, levelThreshold)
	u.XP += xpDelta
	u.Coins += coinDelta
	u.Level = domain.LevelForXP(u.XP, levelThreshold)
	return &CreditResult{
		XP:        u.XP,
		Coins:     u.Coins,
		Level:     u.Level,
		LeveledUp: u.Level > oldLevel,
	}, nil
}

func (r *MemoryUserRepository) TopByXP(_ context.Context, limit int) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryUserRepository) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.User
	for _, u := range r.users {
		if u.Status == domain.UserStatusActive && u.LastActiveAt.Before(cutoff) {
			out = append(out, *u)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryUserRepository) MarkInactive(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.Status = domain.UserStatusInactive
	return nil
}

func (r *MemoryUserRepository) CountRegisteredSince(_ context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.users {
		if !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryUserRepository) CountActiveSince(_ context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.users {
		if !u.LastActiveAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// MemoryOrderRepository is an in-memory OrderRepository sharing a user store
// so transition effects credit through the same ledger.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[int64]*domain.Order
	nextID int64
	users  *MemoryUserRepository

	// BeforeTransition, when set, runs once at the top of the next
	// Transition call, outside the store lock. Tests use it to interleave
	// a competing write into the guard window.
	BeforeTransition func()
}

// NewMemoryOrderRepository creates an empty store over the given users.
func NewMemoryOrderRepository(users *MemoryUserRepository) *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[int64]*domain.Order), users: users}
}

// Put seeds an order.
func (r *MemoryOrderRepository) Put(o *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	if cp.ID == 0 {
		r.nextID++
		cp.ID = r.nextID
	} else if cp.ID > r.nextID {
		r.nextID = cp.ID
	}
	r.orders[cp.ID] = &cp
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	r.orders[order.ID] = &cp
	return nil
}

func (r *MemoryOrderRepository) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryOrderRepository) ListActiveByRequester(_ context.Context, requesterID int64) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.RequesterID == requesterID && !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryOrderRepository) Transition(_ context.Context, orderID int64, expected, next domain.OrderStatus, effects *TransitionEffects) (*domain.Order, *CreditResult, error) {
	if hook := r.BeforeTransition; hook != nil {
		r.BeforeTransition = nil
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, nil, pgx.ErrNoRows
	}
	if o.Status != expected {
		return nil, nil, ErrStatusConflict
	}

	o.Status = next
	o.UpdatedAt = time.Now()
	var credit *CreditResult
	if effects != nil {
		if effects.SetCourierID != nil {
			id := *effects.SetCourierID
			o.CourierID = &id
		}
		if effects.ClearCourier {
			o.CourierID = nil
		}
		if effects.CreditUserID != 0 {
			r.users.mu.Lock()
			var err error
			credit, err = r.users.creditLocked(effects.CreditUserID, effects.CreditXP, effects.CreditCoins, effects.LevelThreshold)
			if err == nil && effects.IncrementDeliveries {
				r.users.users[effects.CreditUserID].TotalDeliveries++
			}
			r.users.mu.Unlock()
			if err != nil {
				return nil, nil, err
			}
		}
	}
	cp := *o
	return &cp, credit, nil
}

func (r *MemoryOrderRepository) AttachRating(_ context.Context, orderID int64, rating int) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if o.Status != domain.OrderStatusDelivered || o.Rating != nil {
		return nil, ErrRatingConflict
	}
	o.Rating = &rating
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (r *MemoryOrderRepository) CountCreatedSince(_ context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, o := range r.orders {
		if !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// MemoryOnboardingRepository is an in-memory OnboardingRepository. Finalize
// creates the user at most once, like the insert-if-absent SQL path.
type MemoryOnboardingRepository struct {
	mu     sync.Mutex
	states map[int64]*domain.OnboardingState
	users  *MemoryUserRepository
}

// NewMemoryOnboardingRepository creates an empty store over the given users.
func NewMemoryOnboardingRepository(users *MemoryUserRepository) *MemoryOnboardingRepository {
	return &MemoryOnboardingRepository{states: make(map[int64]*domain.OnboardingState), users: users}
}

// Put seeds a state row as-is, timestamps included.
func (r *MemoryOnboardingRepository) Put(state *domain.OnboardingState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *state
	r.states[cp.TelegramID] = &cp
}

func (r *MemoryOnboardingRepository) Get(_ context.Context, telegramID int64) (*domain.OnboardingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[telegramID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryOnboardingRepository) Upsert(_ context.Context, state *domain.OnboardingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *state
	cp.UpdatedAt = time.Now()
	if existing, ok := r.states[state.TelegramID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = cp.UpdatedAt
	}
	r.states[state.TelegramID] = &cp
	return nil
}

func (r *MemoryOnboardingRepository) Delete(_ context.Context, telegramID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, telegramID)
	return nil
}

func (r *MemoryOnboardingRepository) Finalize(_ context.Context, state *domain.OnboardingState, campus string, rewardXP, rewardCoins, levelThreshold int64) (*domain.User, bool, error) {
	r.users.mu.Lock()
	existing, ok := r.users.users[state.TelegramID]
	var user domain.User
	created := false
	if ok {
		user = *existing
	} else {
		now := time.Now()
		u := &domain.User{
			TelegramID:   state.TelegramID,
			FirstName:    state.FirstName,
			LastName:     state.LastName,
			Phone:        state.Phone,
			Campus:       campus,
			Language:     state.Language,
			XP:           rewardXP,
			Coins:        rewardCoins,
			Level:        domain.LevelForXP(rewardXP, levelThreshold),
			Status:       domain.UserStatusActive,
			CreatedAt:    now,
			LastActiveAt: now,
		}
		r.users.users[u.TelegramID] = u
		user = *u
		created = true
	}
	r.users.mu.Unlock()

	r.mu.Lock()
	delete(r.states, state.TelegramID)
	r.mu.Unlock()
	return &user, created, nil
}

func (r *MemoryOnboardingRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.states {
		if s.UpdatedAt.Before(cutoff) {
			delete(r.states, id)
			n++
		}
	}
	return n, nil
}
