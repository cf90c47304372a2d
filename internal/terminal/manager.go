package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manager owns the registry of live sessions. Construct one per process
// and share it; its zero value is not usable.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a Manager. Unset Config durations get defaults.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Dispatch queues a command on the session, creating it on first use.
// An async request returns immediately with StatusRunning. Otherwise
// Dispatch waits up to the request timeout for output and returns what
// it gathered with StatusCompleted.
func (m *Manager) Dispatch(ctx context.Context, req DispatchRequest) (*Result, error) {
	if req.SessionID == "" {
		return nil, errors.New("session id is required")
	}

	s, err := m.getOrCreate(req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ExpandKeys(req.Command)); err != nil {
		return nil, err
	}
	m.logger.Debug("command dispatched",
		"session_id", req.SessionID,
		"async", req.Async,
		"description", req.Description,
	)

	if req.Async {
		return &Result{
			Status:      StatusRunning,
			SessionID:   req.SessionID,
			Command:     req.Command,
			Description: req.Description,
			Message:     "Command started asynchronously: " + req.Description,
		}, nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	lines := s.collect(ctx, timeout, m.cfg.QuietPeriod)
	return &Result{
		Status:      StatusCompleted,
		SessionID:   req.SessionID,
		Output:      strings.Join(lines, "\n"),
		Command:     req.Command,
		Description: req.Description,
	}, nil
}

// Send queues text on an existing session, waits delay, then collects
// output for the settle window.
func (m *Manager) Send(ctx context.Context, id, text string, delay time.Duration) (*Result, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ExpandKeys(text)); err != nil {
		return nil, err
	}
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	lines := s.collect(ctx, m.cfg.SettleWindow, m.cfg.QuietPeriod)
	return &Result{
		Status:    StatusCompleted,
		SessionID: id,
		Output:    strings.Join(lines, "\n"),
		InputSent: text,
	}, nil
}

// Write queues text for an existing session without waiting for output.
// Unlike Dispatch it never starts a session.
func (m *Manager) Write(id, text string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return s.enqueue(ExpandKeys(text))
}

// Read waits delay and then collects output for the read window.
func (m *Manager) Read(ctx context.Context, id string, delay time.Duration) (*Result, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	lines := s.collect(ctx, m.cfg.ReadWindow, m.cfg.QuietPeriod)
	return &Result{
		Status:    StatusCompleted,
		SessionID: id,
		Output:    strings.Join(lines, "\n"),
	}, nil
}

// Collect returns output for a live view of the session. It returns as
// soon as any lines are available, or with none once window elapses.
// It returns ErrSessionNotFound for an unknown id, and also once the
// session has been stopped or its output has ended and been consumed.
func (m *Manager) Collect(ctx context.Context, id string, window time.Duration) ([]string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	lines, ok := s.next(ctx, window)
	if !ok {
		return nil, fmt.Errorf("%w: %s (output closed)", ErrSessionNotFound, id)
	}
	return lines, nil
}

// Stop ends the session and removes it from the registry. The id is
// unregistered before the process is terminated, so a concurrent or
// repeated Stop reports ErrSessionNotFound.
func (m *Manager) Stop(id string) (*Result, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, notFound(id)
	}

	s.stop(m.cfg.StopGrace)
	return &Result{
		Status:    StatusCompleted,
		SessionID: id,
		Message:   "Session terminated",
	}, nil
}

// Exists reports whether id is registered.
func (m *Manager) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Sessions returns a snapshot of every registered session, sorted by id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	list := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, len(list))
	for i, s := range list {
		out[i] = s.info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reap stops sessions whose process has exited and, when an idle
// timeout is configured, sessions with no activity since before
// now minus the timeout. It returns the ids it stopped.
func (m *Manager) Reap(now time.Time) []string {
	m.mu.Lock()
	var victims []*session
	for id, s := range m.sessions {
		idle := m.cfg.IdleTimeout > 0 && now.Sub(s.idleSince()) > m.cfg.IdleTimeout
		if idle || s.hasExited() {
			victims = append(victims, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(victims))
	for _, s := range victims {
		m.logger.Info("reaping terminal session", "session_id", s.id, "last_activity", s.idleSince())
		s.stop(m.cfg.StopGrace)
		ids = append(ids, s.id)
	}
	sort.Strings(ids)
	return ids
}

// RunReaper calls Reap every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Reap(now)
		}
	}
}

// Close stops every session and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.stop(m.cfg.StopGrace)
		}()
	}
	wg.Wait()
	if len(all) > 0 {
		m.logger.Info("terminal sessions closed", "count", len(all))
	}
}

// getOrCreate returns the session for id, spawning it if needed. Only
// one caller spawns a given id; others wait for that spawn to finish.
// A failed spawn unregisters the id so the next Dispatch can retry.
func (m *Manager) getOrCreate(id string) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = newSession(id, m.cfg, m.logger)
		m.sessions[id] = s
	}
	m.mu.Unlock()

	if ok {
		<-s.ready
		if s.startErr != nil {
			return nil, fmt.Errorf("session %s: %w", id, s.startErr)
		}
		return s, nil
	}

	if err := s.start(m.cfg); err != nil {
		m.mu.Lock()
		if m.sessions[id] == s {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		m.logger.Error("terminal session spawn failed", "session_id", id, "error", err)
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return s, nil
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, notFound(id)
	}
	<-s.ready
	if s.startErr != nil {
		return nil, notFound(id)
	}
	return s, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
