package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// session is one interactive child process and its two queues.
type session struct {
	id     string
	logger *slog.Logger

	// ready is closed once start has finished; startErr is set before.
	ready    chan struct{}
	startErr error

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File // read end of the merged stdout/stderr pipe

	out        *lineQueue
	outputDone chan struct{} // producer reached EOF
	exited     chan struct{} // process reaped

	input  chan string
	inMu   sync.Mutex // guards closing input against concurrent enqueue
	closed bool

	running atomic.Bool

	mu           sync.Mutex
	state        State
	pid          int
	started      time.Time
	lastActivity time.Time
}

func newSession(id string, cfg Config, logger *slog.Logger) *session {
	now := time.Now()
	return &session{
		id:           id,
		logger:       logger.With("session_id", id),
		ready:        make(chan struct{}),
		out:          newLineQueue(cfg.MaxBufferedLines),
		outputDone:   make(chan struct{}),
		exited:       make(chan struct{}),
		input:        make(chan string, cfg.InputQueue),
		state:        StateStarting,
		started:      now,
		lastActivity: now,
	}
}

// start spawns the process and the producer, consumer and waiter
// goroutines. It closes s.ready when done, successful or not.
func (s *session) start(cfg Config) (err error) {
	defer func() {
		s.startErr = err
		close(s.ready)
	}()

	cmd := exec.Command(cfg.Shell, cfg.Args...)
	if cfg.Dir != nil {
		cmd.Dir = cfg.Dir()
	}
	cmd.Env = append(os.Environ(), cfg.Env...)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	// One pipe for both streams keeps stdout and stderr interleaved in
	// the order the process wrote them.
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		s.setState(StateStopped)
		return fmt.Errorf("start %s: %w", cfg.Shell, err)
	}
	pw.Close()

	s.cmd = cmd
	s.stdin = stdin
	s.output = pr
	s.running.Store(true)

	s.mu.Lock()
	s.state = StateRunning
	s.pid = cmd.Process.Pid
	s.mu.Unlock()

	go s.produce()
	go s.consume()
	go s.wait()

	s.logger.Info("terminal session started",
		"shell", cfg.Shell,
		"args", cfg.Args,
		"dir", cmd.Dir,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// produce drains merged process output into the line queue until EOF.
func (s *session) produce() {
	defer close(s.outputDone)

	r := bufio.NewReaderSize(s.output, 64*1024)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			s.out.push(line)
			s.touch()
			s.logger.Log(context.Background(), levelTrace, "terminal output", "line", line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.out.push(fmt.Sprintf("error reading output: %v", err))
			}
			return
		}
	}
}

// consume writes queued input to the process, one newline-terminated
// write per item, until the input channel is closed.
func (s *session) consume() {
	defer s.stdin.Close()
	for text := range s.input {
		if _, err := io.WriteString(s.stdin, text+"\n"); err != nil {
			s.logger.Warn("terminal input write failed", "error", err)
			return
		}
		s.touch()
	}
}

// wait reaps the process.
func (s *session) wait() {
	err := s.cmd.Wait()
	s.running.Store(false)

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateExited
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Info("terminal process exited", "pid", s.cmd.Process.Pid, "error", err)
	} else {
		s.logger.Info("terminal process exited", "pid", s.cmd.Process.Pid)
	}
	close(s.exited)
}

// enqueue queues text for delivery to the process.
func (s *session) enqueue(text string) error {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	if !s.running.Load() {
		return fmt.Errorf("%w: %s", ErrSessionExited, s.id)
	}
	select {
	case s.input <- text:
		s.touch()
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInputQueueFull, s.id)
	}
}

// collect accumulates output for at most window. Once some output has
// arrived, a gap of quiet with no new lines ends the wait early; quiet
// of zero disables that. Collection also ends when ctx is done or the
// process output reaches EOF.
func (s *session) collect(ctx context.Context, window, quiet time.Duration) []string {
	deadline := time.NewTimer(window)
	defer deadline.Stop()

	var (
		out   []string
		idle  *time.Timer
		idleC <-chan time.Time
	)
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	for {
		if lines := s.out.drain(); len(lines) > 0 {
			out = append(out, lines...)
			if quiet > 0 {
				if idle == nil {
					idle = time.NewTimer(quiet)
					idleC = idle.C
				} else {
					idle.Reset(quiet)
				}
			}
		}

		select {
		case <-s.out.notify:
		case <-idleC:
			return out
		case <-deadline.C:
			return append(out, s.out.drain()...)
		case <-ctx.Done():
			return append(out, s.out.drain()...)
		case <-s.outputDone:
			return append(out, s.out.drain()...)
		}
	}
}

// next blocks until output is available, the window elapses, ctx is
// done, or output has ended. ok is false once output has ended and
// nothing is left to return.
func (s *session) next(ctx context.Context, window time.Duration) (lines []string, ok bool) {
	if lines := s.out.drain(); len(lines) > 0 {
		return lines, true
	}
	t := time.NewTimer(window)
	defer t.Stop()

	select {
	case <-s.out.notify:
	case <-t.C:
	case <-ctx.Done():
	case <-s.outputDone:
		lines := s.out.drain()
		return lines, len(lines) > 0
	}
	return s.out.drain(), true
}

// stop closes input, terminates the process, escalates to a kill after
// grace, and releases the output pipe. It is called at most once, after
// the session has been removed from the registry.
func (s *session) stop(grace time.Duration) {
	<-s.ready
	s.running.Store(false)
	s.setState(StateStopped)

	s.inMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.input)
	}
	s.inMu.Unlock()

	if s.startErr != nil {
		return
	}

	pid := s.cmd.Process.Pid
	if err := terminate(s.cmd.Process); err != nil {
		s.logger.Debug("terminate signal failed", "pid", pid, "error", err)
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-s.exited:
	case <-t.C:
		s.logger.Warn("terminal process did not exit gracefully, killing", "pid", pid)
		if err := kill(s.cmd.Process); err != nil {
			s.logger.Debug("kill failed", "pid", pid, "error", err)
		}
		<-s.exited
	}

	// A background job that inherited the pipe can keep it open after the
	// shell is gone; closing our end releases the producer.
	s.output.Close()
	s.logger.Info("terminal session stopped", "pid", pid)
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) info() SessionInfo {
	pending, dropped := s.out.stats()
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:           s.id,
		State:        s.state,
		PID:          s.pid,
		Started:      s.started,
		LastActivity: s.lastActivity,
		PendingLines: pending,
		DroppedLines: dropped,
	}
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *session) hasExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}
