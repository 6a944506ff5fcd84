package orchestration

import (
	"sync"
	"time"
)

// MonitorStats are the run-wide execution counters.
type MonitorStats struct {
	Executed        int           `json:"executed" yaml:"executed"`
	Succeeded       int           `json:"succeeded" yaml:"succeeded"`
	Failed          int           `json:"failed" yaml:"failed"`
	TotalDuration   time.Duration `json:"total_duration" yaml:"total_duration"`
	AverageDuration time.Duration `json:"average_duration" yaml:"average_duration"`
	Elapsed         time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Monitor accumulates task results between Start and Stop.
type Monitor struct {
	mu      sync.Mutex
	started bool
	start   time.Time
	end     time.Time
	stats   MonitorStats
}

// NewMonitor creates an idle monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Start resets the counters and begins a run.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.start = time.Now()
	m.end = time.Time{}
	m.stats = MonitorStats{}
}

// Record adds a task result. Recording before Start is a programming error
// and panics.
func (m *Monitor) Record(r *TaskResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		panic("orchestration: Monitor.Record called before Start")
	}
	m.stats.Executed++
	if r.Success {
		m.stats.Succeeded++
	} else {
		m.stats.Failed++
	}
	m.stats.TotalDuration += r.Duration
	m.stats.AverageDuration = m.stats.TotalDuration / time.Duration(m.stats.Executed)
}

// Stop ends the run.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started && m.end.IsZero() {
		m.end = time.Now()
	}
}

// Stats returns a copy of the counters. Elapsed runs up to now while the
// monitor has not been stopped.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	switch {
	case !m.started:
	case m.end.IsZero():
		s.Elapsed = time.Since(m.start)
	default:
		s.Elapsed = m.end.Sub(m.start)
	}
	return s
}
