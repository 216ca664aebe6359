package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-user sliding-window admission controller. It admits at
// most maxEvents events per trailing window for each user id; the event that
// would exceed the bound is denied and not recorded. State is in-memory and
// process-local; a restart resets all counters.
type Limiter struct {
	mu        sync.Mutex
	windows   map[int64][]time.Time
	maxEvents int
	window    time.Duration
	now       func() time.Time

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// NewLimiter constructs a limiter. A nil clock defaults to time.Now.
func NewLimiter(maxEvents int, window time.Duration, now func() time.Time) *Limiter {
	if maxEvents <= 0 {
		maxEvents = 3
	}
	if window <= 0 {
		window = 2 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		windows:   make(map[int64][]time.Time),
		maxEvents: maxEvents,
		window:    window,
		now:       now,
		stopSweep: make(chan struct{}),
	}
}

// Admit reports whether an event from the user at eventTime may proceed.
// Calls for the same user are serialized; distinct users never contend
// beyond the map lock.
func (l *Limiter) Admit(userID int64, eventTime time.Time) bool {
	if eventTime.IsZero() {
		eventTime = l.now()
	}
	cutoff := eventTime.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := pruneBefore(l.windows[userID], cutoff)
	if len(recent) >= l.maxEvents {
		l.windows[userID] = recent
		return false
	}
	l.windows[userID] = append(recent, eventTime)
	return true
}

// StartSweep launches a background goroutine that evicts idle entries to
// bound memory. Stop releases it.
func (l *Limiter) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-l.stopSweep:
				return
			}
		}
	}()
}

// Stop terminates the background sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopSweep) })
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, events := range l.windows {
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(l.windows, id)
		}
	}
}

// Size returns the number of tracked users.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func pruneBefore(events []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(events) && !events[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return events
	}
	return append([]time.Time(nil), events[idx:]...)
}
