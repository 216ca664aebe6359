package observability

import (
	"sync"
)

// Metrics provides basic in-memory counters for the event pipeline.
type Metrics struct {
	mu       sync.Mutex
	admitted map[string]int64
	denied   map[string]int64
	failed   map[string]int64
	replies  int64
	jobRuns  map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		admitted: make(map[string]int64),
		denied:   make(map[string]int64),
		failed:   make(map[string]int64),
		jobRuns:  make(map[string]int64),
	}
}

// RecordAdmitted increments the processed-event counter for an event kind.
func (m *Metrics) RecordAdmitted(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admitted[kind]++
}

// RecordDenied increments the rate-limit denial counter for an event kind.
func (m *Metrics) RecordDenied(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[kind]++
}

// RecordFailure increments per-error-code failure counters.
func (m *Metrics) RecordFailure(code string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[code]++
}

// RecordReplies counts outbound replies produced.
func (m *Metrics) RecordReplies(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies += int64(n)
}

// RecordJobRun counts scheduler job executions.
func (m *Metrics) RecordJobRun(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobRuns[name]++
}

// Snapshot returns a copy of all counters for the admin surface.
func (m *Metrics) Snapshot() map[string]map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]map[string]int64{
		"admitted": copyCounts(m.admitted),
		"denied":   copyCounts(m.denied),
		"failed":   copyCounts(m.failed),
		"job_runs": copyCounts(m.jobRuns),
	}
	out["replies"] = map[string]int64{"total": m.replies}
	return out
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
