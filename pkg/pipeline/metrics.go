package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics contains per-pipeline counters.
type Metrics struct {
	// Frame counters (atomic; read from any goroutine)
	Received       atomic.Uint64
	Delivered      atomic.Uint64
	Dropped        atomic.Uint64
	Dispatches     atomic.Uint64
	DispatchErrors atomic.Uint64
	Interrupted    atomic.Uint64
	DelayNanos     atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Received       uint64
	Delivered      uint64
	Dropped        uint64
	Dispatches     uint64
	DispatchErrors uint64
	Interrupted    uint64
	Delay          time.Duration
}

// Snapshot reads every counter.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Received:       m.Received.Load(),
		Delivered:      m.Delivered.Load(),
		Dropped:        m.Dropped.Load(),
		Dispatches:     m.Dispatches.Load(),
		DispatchErrors: m.DispatchErrors.Load(),
		Interrupted:    m.Interrupted.Load(),
		Delay:          time.Duration(m.DelayNanos.Load()),
	}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Delivered.Store(0)
	m.Dropped.Store(0)
	m.Dispatches.Store(0)
	m.DispatchErrors.Store(0)
	m.Interrupted.Store(0)
	m.DelayNanos.Store(0)
}

// Stats returns a snapshot of the pipeline's counters.
func (p *PrePipeline) Stats() Stats { return p.metrics.Snapshot() }
