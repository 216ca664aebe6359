package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/events"
	"github.com/spec-kit/campus-delivery/internal/repository"
	"github.com/spec-kit/campus-delivery/pkg/util"
)

type orderFixture struct {
	users      *repository.MemoryUserRepository
	orders     *repository.MemoryOrderRepository
	dispatcher *captureDispatcher
	svc        *OrderService
}

func newOrderFixture() *orderFixture {
	users := repository.NewMemoryUserRepository()
	orders := repository.NewMemoryOrderRepository(users)
	dispatcher := &captureDispatcher{}
	svc := NewOrderService(OrderDependencies{
		OrderRepo:  orders,
		UserRepo:   users,
		Dispatcher: dispatcher,
		Rewards:    testRewards(),
	})
	users.Put(&domain.User{TelegramID: 100, FirstName: "Sara", XP: 50})
	users.Put(&domain.User{TelegramID: 200, FirstName: "Biruk"})
	return &orderFixture{users: users, orders: orders, dispatcher: dispatcher, svc: svc}
}

func TestOrderService_Create(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "4kilo gate", Dropoff: "dorm B", Item: "lunch box"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRequested, order.Status)
	assert.Equal(t, int64(100), order.RequesterID)
	assert.Nil(t, order.CourierID)
	assert.NotZero(t, order.ID)

	require.Len(t, f.dispatcher.byType(events.EventOrderCreated), 1)
}

func TestOrderService_CreateRejectsBlankFields(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	_, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "  ", Dropoff: "dorm B", Item: "lunch"})
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "VALIDATION_FAILED"))
}

func TestOrderService_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "library", Dropoff: "6kilo", Item: "notes"})
	require.NoError(t, err)

	accepted, err := f.svc.Accept(ctx, 200, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.CourierID)
	assert.Equal(t, int64(200), *accepted.CourierID)

	inTransit, err := f.svc.Start(ctx, 200, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInTransit, inTransit.Status)

	delivered, credit, err := f.svc.Complete(ctx, 200, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, delivered.Status)

	// Delivery reward lands on the requester, atomically with the status.
	require.NotNil(t, credit)
	assert.Equal(t, int64(100), credit.XP)
	assert.Equal(t, 2, credit.Level)
	assert.True(t, credit.LeveledUp)

	requester, err := f.users.GetByID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), requester.XP)
	assert.Equal(t, 1, requester.TotalDeliveries)

	changes := f.dispatcher.byType(events.EventOrderStatusChanged)
	assert.Len(t, changes, 3)
}

func TestOrderService_NoSkippingStates(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
	require.NoError(t, err)

	// REQUESTED -> IN_TRANSIT and REQUESTED -> DELIVERED are not legal.
	_, err = f.svc.Start(ctx, 200, order.ID)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "INVALID_TRANSITION"))

	_, _, err = f.svc.Complete(ctx, 200, order.ID)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "INVALID_TRANSITION"))

	got, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRequested, got.Status)
}

func TestOrderService_RequesterCannotSelfCourier(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, 100, order.ID)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "FORBIDDEN"))
}

func TestOrderService_OnlyAssignedCourierProgresses(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()
	f.users.Put(&domain.User{TelegramID: 300, FirstName: "Kidist"})

	order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, 200, order.ID)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, 300, order.ID)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "FORBIDDEN"))
}

func TestOrderService_CancelRules(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	t.Run("RequesterCancelsOpenOrder", func(t *testing.T) {
		order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
		require.NoError(t, err)

		cancelled, err := f.svc.Cancel(ctx, 100, order.ID, false)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	})

	t.Run("StrangerCannotCancelOpenOrder", func(t *testing.T) {
		order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, 200, order.ID, false)
		require.Error(t, err)
		assert.True(t, util.IsCode(err, "FORBIDDEN"))
	})

	t.Run("AdminCancelsOpenOrder", func(t *testing.T) {
		order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
		require.NoError(t, err)

		cancelled, err := f.svc.Cancel(ctx, 9000, order.ID, true)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	})

	t.Run("CourierBacksOutOfAcceptedOrder", func(t *testing.T) {
		order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, 200, order.ID)
		require.NoError(t, err)

		cancelled, err := f.svc.Cancel(ctx, 200, order.ID, false)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
		assert.Nil(t, cancelled.CourierID)
	})

	t.Run("RequesterCannotCancelAcceptedOrder", func(t *testing.T) {
		order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, 200, order.ID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, 100, order.ID, false)
		require.Error(t, err)
		assert.True(t, util.IsCode(err, "FORBIDDEN"))
	})

	t.Run("NoCancelInTransit", func(t *testing.T) {
		order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, 200, order.ID)
		require.NoError(t, err)
		_, err = f.svc.Start(ctx, 200, order.ID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, 200, order.ID, false)
		require.Error(t, err)
		assert.True(t, util.IsCode(err, "INVALID_TRANSITION"))
	})
}

func TestOrderService_ConcurrentAcceptOneWins(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()
	f.users.Put(&domain.User{TelegramID: 300})

	order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
	require.NoError(t, err)

	// Simulate a competing claim landing between the read and the guarded
	// write of courier 300's attempt.
	f.orders.BeforeTransition = func() {
		_, err := f.svc.Accept(ctx, 200, order.ID)
		require.NoError(t, err)
	}

	_, err = f.svc.Accept(ctx, 300, order.ID)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "INVALID_TRANSITION"))

	got, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CourierID)
	assert.Equal(t, int64(200), *got.CourierID)
}

func TestOrderService_Rating(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	deliver := func(t *testing.T) *domain.Order {
		order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, 200, order.ID)
		require.NoError(t, err)
		_, err = f.svc.Start(ctx, 200, order.ID)
		require.NoError(t, err)
		delivered, _, err := f.svc.Complete(ctx, 200, order.ID)
		require.NoError(t, err)
		return delivered
	}

	t.Run("TopRatingPaysCourierBonus", func(t *testing.T) {
		order := deliver(t)
		before, err := f.users.GetByID(ctx, 200)
		require.NoError(t, err)

		rated, err := f.svc.Rate(ctx, 100, order.ID, 5)
		require.NoError(t, err)
		require.NotNil(t, rated.Rating)
		assert.Equal(t, 5, *rated.Rating)

		after, err := f.users.GetByID(ctx, 200)
		require.NoError(t, err)
		assert.Equal(t, before.XP+20, after.XP)
		assert.Equal(t, before.Coins+5, after.Coins)
	})

	t.Run("LowRatingPaysNothing", func(t *testing.T) {
		order := deliver(t)
		before, err := f.users.GetByID(ctx, 200)
		require.NoError(t, err)

		_, err = f.svc.Rate(ctx, 100, order.ID, 3)
		require.NoError(t, err)

		after, err := f.users.GetByID(ctx, 200)
		require.NoError(t, err)
		assert.Equal(t, before.XP, after.XP)
	})

	t.Run("RatingIsOneShot", func(t *testing.T) {
		order := deliver(t)
		_, err := f.svc.Rate(ctx, 100, order.ID, 4)
		require.NoError(t, err)

		_, err = f.svc.Rate(ctx, 100, order.ID, 5)
		require.Error(t, err)
		assert.True(t, util.IsCode(err, "INVALID_TRANSITION"))
	})

	t.Run("OnlyDeliveredOrdersAreRatable", func(t *testing.T) {
		order, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "c"})
		require.NoError(t, err)

		_, err = f.svc.Rate(ctx, 100, order.ID, 5)
		require.Error(t, err)
		assert.True(t, util.IsCode(err, "INVALID_TRANSITION"))
	})

	t.Run("OnlyRequesterRates", func(t *testing.T) {
		order := deliver(t)
		_, err := f.svc.Rate(ctx, 200, order.ID, 5)
		require.Error(t, err)
		assert.True(t, util.IsCode(err, "FORBIDDEN"))
	})

	t.Run("RatingOutOfRange", func(t *testing.T) {
		order := deliver(t)
		_, err := f.svc.Rate(ctx, 100, order.ID, 6)
		require.Error(t, err)
		assert.True(t, util.IsCode(err, "VALIDATION_FAILED"))

		_, err = f.svc.Rate(ctx, 100, order.ID, 0)
		require.Error(t, err)
		assert.True(t, util.IsCode(err, "VALIDATION_FAILED"))
	})
}

func TestOrderService_Track(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	open, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "open"})
	require.NoError(t, err)
	closed, err := f.svc.Create(ctx, 100, OrderCreateInput{Pickup: "a", Dropoff: "b", Item: "done"})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, 100, closed.ID, false)
	require.NoError(t, err)

	active, err := f.svc.Track(ctx, 100)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, open.ID, active[0].ID)
}

func TestOrderService_UnknownOrder(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture()

	_, err := f.svc.Accept(ctx, 200, 9999)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "NOT_FOUND"))
}
