package looper

import (
	"sort"
	"sync"
	"time"

	"github.com/nomor/memclear/internal/domain"
)

type task struct {
	due      time.Time
	seq      uint64
	fn       func()
	canceled bool
}

// Manual is a virtual-clock loop for deterministic tests.
// Nothing runs until Advance or RunPending is called; Background work runs inline.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*task
}

// NewManual creates a manual loop whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Post schedules fn at the current virtual time.
func (m *Manual) Post(fn func()) {
	m.PostDelayed(0, fn)
}

// PostDelayed schedules fn at now+d.
func (m *Manual) PostDelayed(d time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &task{due: m.now.Add(d), seq: m.seq, fn: fn}
	m.pending = append(m.pending, t)
	return func() {
		m.mu.Lock()
		t.canceled = true
		m.mu.Unlock()
	}
}

// Background runs fn immediately on the caller's goroutine.
func (m *Manual) Background(fn func()) {
	fn()
}

// Advance moves the clock forward by d, running every callback that falls due
// in time order (FIFO for equal times). Callbacks scheduled by callbacks run too.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

// RunPending runs callbacks due at the current time.
func (m *Manual) RunPending() {
	m.Advance(0)
}

// Pending returns the number of scheduled callbacks not yet run.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.pending {
		if !t.canceled {
			n++
		}
	}
	return n
}

// Set moves the clock to an absolute time without running callbacks.
func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manual) popDue(target time.Time) *task {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].due.Equal(m.pending[j].due) {
			return m.pending[i].seq < m.pending[j].seq
		}
		return m.pending[i].due.Before(m.pending[j].due)
	})

	for len(m.pending) > 0 {
		t := m.pending[0]
		if t.due.After(target) {
			return nil
		}
		m.pending = m.pending[1:]
		if t.canceled {
			continue
		}
		if t.due.After(m.now) {
			m.now = t.due
		}
		return t
	}
	return nil
}

// Ensure Manual implements domain.EventLoop.
var _ domain.EventLoop = (*Manual)(nil)
