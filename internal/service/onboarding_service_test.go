package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/events"
	"github.com/spec-kit/campus-delivery/internal/repository"
)

type onboardingFixture struct {
	users      *repository.MemoryUserRepository
	states     *repository.MemoryOnboardingRepository
	dispatcher *captureDispatcher
	svc        *OnboardingService
}

func newOnboardingFixture() *onboardingFixture {
	users := repository.NewMemoryUserRepository()
	states := repository.NewMemoryOnboardingRepository(users)
	dispatcher := &captureDispatcher{}
	svc := NewOnboardingService(OnboardingDependencies{
		OnboardingRepo: states,
		Dispatcher:     dispatcher,
		Bot:            testBot(),
		Rewards:        testRewards(),
	})
	return &onboardingFixture{users: users, states: states, dispatcher: dispatcher, svc: svc}
}

func inbound(userID int64, kind domain.EventKind, payload string) domain.InboundEvent {
	return domain.InboundEvent{
		UserID:    userID,
		Timestamp: time.Now(),
		Kind:      kind,
		Payload:   payload,
		FirstName: "Hanna",
	}
}

func TestOnboarding_FirstContactPromptsLanguage(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture()

	replies, err := f.svc.HandleEvent(ctx, inbound(1, domain.EventKindText, "/start"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, domain.MsgChooseLanguage, replies[0].MessageKey)
	assert.Equal(t, domain.KbLanguages, replies[0].KeyboardSpec)

	// First contact anchors the flow with a state row.
	state, err := f.states.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StepLanguageSelect, state.Step)
	assert.Equal(t, "Hanna", state.FirstName)
}

func TestOnboarding_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture()

	_, err := f.svc.HandleEvent(ctx, inbound(1, domain.EventKindText, "hello"))
	require.NoError(t, err)

	replies, err := f.svc.HandleEvent(ctx, inbound(1, domain.EventKindButton, "lang:en"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, domain.MsgSharePhone, replies[0].MessageKey)

	replies, err = f.svc.HandleEvent(ctx, inbound(1, domain.EventKindContact, "+251911234567"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, domain.MsgChooseCampus, replies[0].MessageKey)

	replies, err = f.svc.HandleEvent(ctx, inbound(1, domain.EventKindButton, "campus:4kilo"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, domain.MsgRegistered, replies[0].MessageKey)
	assert.Equal(t, domain.KbMainMenu, replies[0].KeyboardSpec)

	user, err := f.users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "en", user.Language)
	assert.Equal(t, "+251911234567", user.Phone)
	assert.Equal(t, "4kilo", user.Campus)
	assert.Equal(t, int64(50), user.XP)
	assert.Equal(t, int64(10), user.Coins)
	assert.Equal(t, 1, user.Level)

	// Completion removes the flow state.
	_, err = f.states.Get(ctx, 1)
	require.Error(t, err)

	require.Len(t, f.dispatcher.byType(events.EventUserRegistered), 1)
}

func TestOnboarding_InvalidInputRepromptsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture()

	_, err := f.svc.HandleEvent(ctx, inbound(2, domain.EventKindText, "hi"))
	require.NoError(t, err)
	before, err := f.states.Get(ctx, 2)
	require.NoError(t, err)

	t.Run("UnknownLanguage", func(t *testing.T) {
		replies, err := f.svc.HandleEvent(ctx, inbound(2, domain.EventKindButton, "lang:fr"))
		require.NoError(t, err)
		assert.Equal(t, domain.MsgChooseLanguage, replies[0].MessageKey)

		state, err := f.states.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, before.Step, state.Step)
		assert.Equal(t, before.UpdatedAt, state.UpdatedAt)
	})

	t.Run("TextInsteadOfLanguageButton", func(t *testing.T) {
		replies, err := f.svc.HandleEvent(ctx, inbound(2, domain.EventKindText, "english please"))
		require.NoError(t, err)
		assert.Equal(t, domain.MsgChooseLanguage, replies[0].MessageKey)
	})

	_, err = f.svc.HandleEvent(ctx, inbound(2, domain.EventKindButton, "lang:am"))
	require.NoError(t, err)

	t.Run("GarbagePhone", func(t *testing.T) {
		replies, err := f.svc.HandleEvent(ctx, inbound(2, domain.EventKindContact, "not-a-number"))
		require.NoError(t, err)
		assert.Equal(t, domain.MsgSharePhone, replies[0].MessageKey)

		state, err := f.states.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, domain.StepPhonePending, state.Step)
		assert.Empty(t, state.Phone)
	})

	t.Run("TypedTextIsNotAContact", func(t *testing.T) {
		replies, err := f.svc.HandleEvent(ctx, inbound(2, domain.EventKindText, "+251911234567"))
		require.NoError(t, err)
		assert.Equal(t, domain.MsgSharePhone, replies[0].MessageKey)
	})

	_, err = f.svc.HandleEvent(ctx, inbound(2, domain.EventKindContact, "0911 23 45 67"))
	require.NoError(t, err)

	t.Run("UnknownCampus", func(t *testing.T) {
		replies, err := f.svc.HandleEvent(ctx, inbound(2, domain.EventKindButton, "campus:siddist"))
		require.NoError(t, err)
		assert.Equal(t, domain.MsgChooseCampus, replies[0].MessageKey)

		_, err = f.users.GetByID(ctx, 2)
		require.Error(t, err)
	})
}

func TestOnboarding_RegistrationRewardExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture()

	_, err := f.svc.HandleEvent(ctx, inbound(3, domain.EventKindButton, "lang:en"))
	require.NoError(t, err)
	_, err = f.svc.HandleEvent(ctx, inbound(3, domain.EventKindContact, "+251911000000"))
	require.NoError(t, err)

	// Simulate a crash after the user row commit but before the state row
	// delete: the final step is replayed against a lingering state row.
	state, err := f.states.Get(ctx, 3)
	require.NoError(t, err)

	_, err = f.svc.HandleEvent(ctx, inbound(3, domain.EventKindButton, "campus:5kilo"))
	require.NoError(t, err)
	require.NoError(t, f.states.Upsert(ctx, state))

	replies, err := f.svc.HandleEvent(ctx, inbound(3, domain.EventKindButton, "campus:5kilo"))
	require.NoError(t, err)
	assert.Equal(t, domain.MsgRegistered, replies[0].MessageKey)

	user, err := f.users.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(50), user.XP)
	assert.Equal(t, int64(10), user.Coins)

	// The reward event fired once, not twice.
	assert.Len(t, f.dispatcher.byType(events.EventUserRegistered), 1)
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		payload string
		want    string
		ok      bool
	}{
		{"+251 911 234 567", "+251911234567", true},
		{"0911-23-45-67", "0911234567", true},
		{"(091) 123 4567", "0911234567", true},
		{"12345678", "", false},
		{"+12345678901234567", "", false},
		{"call me maybe", "", false},
		{"+2519+11234567", "", false},
	}
	for _, tc := range cases {
		got, ok := normalizePhone(domain.InboundEvent{Kind: domain.EventKindContact, Payload: tc.payload})
		assert.Equal(t, tc.ok, ok, tc.payload)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.payload)
		}
	}
}
