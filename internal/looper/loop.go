// Package looper implements the single cooperative scheduling context that
// serializes controller state, driver clicks and progress callbacks.
package looper

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// PanicHandler receives panics recovered from loop callbacks.
type PanicHandler func(recovered any, stack []byte)

// Loop runs posted callbacks one at a time on a single goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running atomic.Bool
	stopped atomic.Bool

	onPanic PanicHandler
	logger  *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithPanicHandler reports recovered callback panics to h.
func WithPanicHandler(h PanicHandler) Option {
	return func(l *Loop) { l.onPanic = h }
}

// New creates a loop. Callbacks posted before Run are kept until it starts.
func New(logger *zap.Logger, opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drains the queue until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return nil
	}
	defer l.stopped.Store(true)

	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			l.invoke(fn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			l.logger.Error("panic in loop callback",
				zap.Any("panic", r),
				zap.ByteString("stack", stack))
			if l.onPanic != nil {
				l.onPanic(r, stack)
			}
		}
	}()
	fn()
}

// Post enqueues fn. Posts after the loop has stopped are dropped.
func (l *Loop) Post(fn func()) {
	if l.stopped.Load() {
		l.logger.Debug("loop stopped, dropping callback")
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// PostDelayed enqueues fn after d. Cancel is safe to call any number of times.
func (l *Loop) PostDelayed(d time.Duration, fn func()) func() {
	var canceled atomic.Bool
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if canceled.Load() {
				return
			}
			fn()
		})
	})
	return func() {
		canceled.Store(true)
		t.Stop()
	}
}

// Background runs fn on its own goroutine.
func (l *Loop) Background(fn func()) {
	go l.invoke(fn)
}

// Now returns the wall-clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Ensure Loop implements domain.EventLoop.
var _ domain.EventLoop = (*Loop)(nil)
