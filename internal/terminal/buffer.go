package terminal

import "sync"

// lineQueue is an ordered queue of output lines with a wakeup channel.
// The notify channel holds at most one pending signal; a reader that
// wakes drains everything queued so far.
type lineQueue struct {
	mu      sync.Mutex
	lines   []string
	max     int
	dropped int
	notify  chan struct{}
}

func newLineQueue(limit int) *lineQueue {
	return &lineQueue{max: limit, notify: make(chan struct{}, 1)}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	if over := len(q.lines) - q.max; over > 0 {
		q.lines = append(q.lines[:0], q.lines[over:]...)
		q.dropped += over
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns every queued line.
func (q *lineQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lines) == 0 {
		return nil
	}
	out := q.lines
	q.lines = nil
	return out
}

// stats returns the number of unread lines and the total dropped.
func (q *lineQueue) stats() (pending, dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines), q.dropped
}
