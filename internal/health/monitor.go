package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pitchlens/pitchlens/internal/config"
)

// Well-known dependency names.
const (
	DepTranscription = "transcription"
	DepAnalysis      = "analysis"
	DepPersistence   = "persistence"
)

// Status is the health classification of a dependency.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
	StatusUnknown  Status = "unknown"
)

// Record is the health record kept per dependency.
type Record struct {
	Name          string        `json:"name"`
	Status        Status        `json:"status"`
	LastCheck     time.Time     `json:"last_check"`
	LastLatency   time.Duration `json:"last_latency"`
	ErrorCount    int64         `json:"error_count"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	BreakerState  string        `json:"breaker_state"`
}

// Probe checks one dependency, returning an error when it is unreachable.
type Probe func(ctx context.Context) error

type dependency struct {
	name    string
	probe   Probe
	breaker *Breaker
	record  Record
}

// Monitor owns the per-dependency breakers and health records and runs the
// periodic probes. One monitor is shared process-wide.
type Monitor struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	deps map[string]*dependency
}

// NewMonitor creates a monitor with breakers configured from cfg.
func NewMonitor(cfg config.Health) *Monitor {
	return &Monitor{
		interval: config.Duration(cfg.ProbeInterval, 30*time.Second),
		now:      time.Now,
		deps:     make(map[string]*dependency),
	}
}

// Register adds a dependency with its probe. Probe may be nil for
// dependencies observed only through operational results.
func (m *Monitor) Register(name string, cfg BreakerConfig, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[name] = &dependency{
		name:    name,
		probe:   probe,
		breaker: NewBreaker(name, cfg),
		record:  Record{Name: name, Status: StatusUnknown, BreakerState: Closed.String()},
	}
}

// Breaker returns the breaker for a dependency, or nil if unregistered.
func (m *Monitor) Breaker(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deps[name]; ok {
		return d.breaker
	}
	return nil
}

// Allow fails fast when the named dependency's circuit is open.
func (m *Monitor) Allow(name string) error {
	if b := m.Breaker(name); b != nil {
		return b.Allow()
	}
	return nil
}

// ReportSuccess records an operational success observed by another component.
func (m *Monitor) ReportSuccess(name string) {
	if b := m.Breaker(name); b != nil {
		b.Success()
	}
}

// ReportFailure records an operational failure observed by another component.
func (m *Monitor) ReportFailure(name string) {
	m.mu.Lock()
	d, ok := m.deps[name]
	if ok {
		d.record.ErrorCount++
	}
	m.mu.Unlock()

	if ok {
		d.breaker.Failure()
	}
}

// Start runs the probe loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.probeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.Lock()
	deps := make([]*dependency, 0, len(m.deps))
	for _, d := range m.deps {
		deps = append(deps, d)
	}
	m.mu.Unlock()

	for _, d := range deps {
		m.probeOne(ctx, d)
	}
}

func (m *Monitor) probeOne(ctx context.Context, d *dependency) {
	var probeErr error
	var latency time.Duration

	if d.probe != nil {
		start := m.now()
		probeErr = d.probe(ctx)
		latency = m.now().Sub(start)

		if probeErr != nil {
			d.breaker.Failure()
			slog.Warn("health probe failed", "dependency", d.name, "error", probeErr)
		} else {
			d.breaker.Success()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d.record.LastCheck = m.now()
	if d.probe != nil {
		d.record.LastLatency = latency
		if probeErr != nil {
			d.record.ErrorCount++
		}
	}

	d.record.Status = classify(d.breaker.State(), probeErr, d.probe != nil)
	d.record.BreakerState = d.breaker.State().String()
	if d.record.Status == StatusHealthy {
		d.record.UptimeSeconds += m.interval.Seconds()
	}
}

func classify(state BreakerState, probeErr error, probed bool) Status {
	switch state {
	case Open:
		return StatusFailed
	case HalfOpen:
		return StatusDegraded
	}
	if probed && probeErr != nil {
		return StatusDegraded
	}
	return StatusHealthy
}

// Snapshot returns a copy of every dependency record plus the derived
// aggregate: healthy only if every dependency is healthy, failed only if
// every dependency is failed, otherwise degraded.
func (m *Monitor) Snapshot() (map[string]Record, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make(map[string]Record, len(m.deps))
	allHealthy := len(m.deps) > 0
	allFailed := len(m.deps) > 0
	for name, d := range m.deps {
		d.record.BreakerState = d.breaker.State().String()
		records[name] = d.record

		if d.record.Status != StatusHealthy {
			allHealthy = false
		}
		if d.record.Status != StatusFailed {
			allFailed = false
		}
	}

	switch {
	case allHealthy:
		return records, StatusHealthy
	case allFailed:
		return records, StatusFailed
	default:
		return records, StatusDegraded
	}
}

// Overall returns only the aggregate status.
func (m *Monitor) Overall() Status {
	_, overall := m.Snapshot()
	return overall
}
