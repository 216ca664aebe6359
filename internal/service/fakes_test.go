package service

import (
	"context"
	"sync"

	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/events"
)

func testRewards() config.RewardConfig {
	return config.RewardConfig{
		RegistrationXP:    50,
		RegistrationCoins: 10,
		DeliveryXP:        50,
		DeliveryCoins:     10,
		RatingBonusXP:     20,
		RatingBonusCoins:  5,
		RatingThreshold:   5,
		LevelUpThreshold:  100,
	}
}

func testBot() config.BotConfig {
	return config.BotConfig{
		AdminIDs:  []int64{9000},
		Campuses:  []string{"4kilo", "5kilo", "6kilo"},
		Languages: []string{"en", "am"},
	}
}

// captureDispatcher records published events for assertions.
type captureDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *captureDispatcher) Publish(_ context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *captureDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *captureDispatcher) byType(t events.EventType) []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []events.Event
	for _, e := range d.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
