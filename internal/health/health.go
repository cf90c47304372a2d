// Package health tracks whether the services Sagaforge depends on are
// reachable. Each dependency is probed with exponential backoff until
// it first answers, then polled at a fixed interval; transitions are
// logged once rather than on every failed probe.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Probe checks one dependency. A nil error means it is reachable.
type Probe func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// First probe retries start here and double up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// StartupAttempts is how many backoff probes run before settling
	// into Interval polling.
	StartupAttempts int
	// Interval is the steady-state polling period.
	Interval time.Duration
	// Timeout bounds each probe.
	Timeout time.Duration
}

// DefaultSchedule backs off 2s, 4s, 8s ... 60s for ten attempts, then
// polls every 30 seconds.
func DefaultSchedule() Schedule {
	return Schedule{
		Backoff:         2 * time.Second,
		MaxBackoff:      60 * time.Second,
		StartupAttempts: 10,
		Interval:        30 * time.Second,
		Timeout:         5 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.Backoff <= 0 {
		s.Backoff = d.Backoff
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = d.MaxBackoff
	}
	if s.StartupAttempts <= 0 {
		s.StartupAttempts = d.StartupAttempts
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

// Status is the last known state of a dependency.
type Status struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	Checked   time.Time `json:"checked"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

type dependency struct {
	name     string
	probe    Probe
	schedule Schedule

	mu     sync.Mutex
	status Status
	// known is false until the first probe completes.
	known bool
}

// Monitor probes registered dependencies in the background.
type Monitor struct {
	logger *slog.Logger

	mu   sync.RWMutex
	deps map[string]*dependency
	wg   sync.WaitGroup
}

// NewMonitor creates an empty Monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{logger: logger, deps: make(map[string]*dependency)}
}

// Watch starts probing name until ctx is done. Registering a name twice
// panics.
func (m *Monitor) Watch(ctx context.Context, name string, probe Probe, schedule Schedule) {
	if name == "" || probe == nil {
		panic("health: Watch needs a name and a probe")
	}
	d := &dependency{
		name:     name,
		probe:    probe,
		schedule: schedule.withDefaults(),
		status:   Status{Name: name},
	}

	m.mu.Lock()
	if _, dup := m.deps[name]; dup {
		m.mu.Unlock()
		panic("health: dependency " + name + " registered twice")
	}
	m.deps[name] = d
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, d)
	}()
}

// Status returns every dependency's state, sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.deps))
	for _, d := range m.deps {
		d.mu.Lock()
		out = append(out, d.status)
		d.mu.Unlock()
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every dependency is up. Dependencies not yet
// probed count as down.
func (m *Monitor) Healthy() bool {
	for _, s := range m.Status() {
		if !s.Up {
			return false
		}
	}
	return true
}

// Wait blocks until all probe goroutines have exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, d *dependency) {
	delay := d.schedule.Backoff
	for attempt := 1; attempt <= d.schedule.StartupAttempts; attempt++ {
		if m.check(ctx, d) {
			break
		}
		if attempt == d.schedule.StartupAttempts {
			m.logger.Warn("dependency unreachable at startup, polling in background",
				"dependency", d.name, "attempts", attempt)
			break
		}
		if !sleep(ctx, delay) {
			return
		}
		delay = min(delay*2, d.schedule.MaxBackoff)
	}

	ticker := time.NewTicker(d.schedule.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, d)
		}
	}
}

// check probes once, records the result and logs transitions. It
// reports whether the dependency is up.
func (m *Monitor) check(ctx context.Context, d *dependency) bool {
	pctx, cancel := context.WithTimeout(ctx, d.schedule.Timeout)
	err := d.probe(pctx)
	cancel()
	if ctx.Err() != nil {
		return false
	}

	now := time.Now()
	up := err == nil

	d.mu.Lock()
	changed := !d.known || d.status.Up != up
	wasKnown := d.known
	d.known = true
	d.status.Up = up
	d.status.Checked = now
	if changed {
		d.status.Since = now
	}
	d.status.LastError = ""
	if err != nil {
		d.status.LastError = err.Error()
	}
	d.mu.Unlock()

	switch {
	case changed && up:
		m.logger.Info("dependency up", "dependency", d.name, "recovered", wasKnown)
	case changed && wasKnown:
		m.logger.Warn("dependency down", "dependency", d.name, "error", err)
	case !up:
		m.logger.Debug("dependency probe failed", "dependency", d.name, "error", err)
	}
	return up
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
