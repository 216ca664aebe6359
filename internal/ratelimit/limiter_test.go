package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstWithinWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(3, 2*time.Second, func() time.Time { return base })

	admitted := 0
	denied := 0
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * 200 * time.Millisecond)
		if l.Admit(42, ts) {
			admitted++
		} else {
			denied++
		}
	}

	assert.Equal(t, 3, admitted)
	assert.Equal(t, 2, denied)
}

func TestLimiter_DeniedEventNotRecorded(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(3, 2*time.Second, func() time.Time { return base })

	require.True(t, l.Admit(1, base))
	require.True(t, l.Admit(1, base.Add(100*time.Millisecond)))
	require.True(t, l.Admit(1, base.Add(200*time.Millisecond)))
	require.False(t, l.Admit(1, base.Add(300*time.Millisecond)))

	// The denied event must not extend the window: once the first admitted
	// event ages out, capacity frees exactly then.
	assert.True(t, l.Admit(1, base.Add(2*time.Second+time.Millisecond)))
}

func TestLimiter_WindowSlides(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(3, 2*time.Second, func() time.Time { return base })

	for i := 0; i < 3; i++ {
		require.True(t, l.Admit(7, base.Add(time.Duration(i)*100*time.Millisecond)))
	}
	require.False(t, l.Admit(7, base.Add(time.Second)))

	// After the full window elapses the user is clean again.
	later := base.Add(3 * time.Second)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Admit(7, later.Add(time.Duration(i)*100*time.Millisecond)))
	}
}

func TestLimiter_PerUserIsolation(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(3, 2*time.Second, func() time.Time { return base })

	for i := 0; i < 3; i++ {
		require.True(t, l.Admit(100, base))
	}
	require.False(t, l.Admit(100, base))

	// A different user has an independent window.
	assert.True(t, l.Admit(200, base))
}

func TestLimiter_ConcurrentAdmit(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(3, 2*time.Second, func() time.Time { return base })

	const goroutines = 20
	results := make(chan bool, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Admit(55, base)
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted)
}

func TestLimiter_SweepEvictsIdleUsers(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	l := NewLimiter(3, 2*time.Second, now)

	l.Admit(1, current)
	l.Admit(2, current)
	require.Equal(t, 2, l.Size())

	mu.Lock()
	current = current.Add(time.Minute)
	mu.Unlock()

	l.sweep()
	assert.Equal(t, 0, l.Size())
}
