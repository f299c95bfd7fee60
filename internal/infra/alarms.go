package infra

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// AlarmHandler is invoked on the event loop when an alarm fires.
type AlarmHandler func(id domain.AlarmID)

type registration struct {
	at     time.Time
	seq    uint64
	cancel func()
}

// TimerAlarms implements domain.AlarmFacility with delayed posts on the
// daemon's event loop. Registrations live as long as the process.
type TimerAlarms struct {
	loop   domain.EventLoop
	logger *zap.Logger

	mu      sync.Mutex
	armed   map[domain.AlarmID]registration
	seq     uint64
	handler AlarmHandler
}

// NewTimerAlarms creates an alarm facility on loop.
func NewTimerAlarms(loop domain.EventLoop, logger *zap.Logger) *TimerAlarms {
	return &TimerAlarms{
		loop:   loop,
		logger: logger,
		armed:  make(map[domain.AlarmID]registration),
	}
}

// SetHandler installs the fire callback. Alarms that fire with no handler are dropped.
func (a *TimerAlarms) SetHandler(h AlarmHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// SetExact arms id at the wall-clock instant at, replacing any previous
// registration of id. Instants in the past fire immediately.
func (a *TimerAlarms) SetExact(id domain.AlarmID, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.armed[id]; ok {
		prev.cancel()
	}
	a.seq++
	seq := a.seq

	d := at.Sub(a.loop.Now())
	if d < 0 {
		d = 0
	}
	cancel := a.loop.PostDelayed(d, func() { a.fire(id, seq) })
	a.armed[id] = registration{at: at, seq: seq, cancel: cancel}

	a.logger.Info("alarm armed",
		zap.String("id", string(id)),
		zap.Time("at", at),
		zap.Duration("in", d))
	return nil
}

// Cancel disarms id. Unknown ids are ignored.
func (a *TimerAlarms) Cancel(id domain.AlarmID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if reg, ok := a.armed[id]; ok {
		reg.cancel()
		delete(a.armed, id)
		a.logger.Info("alarm cancelled", zap.String("id", string(id)))
	}
	return nil
}

// Next returns when id fires, if armed.
func (a *TimerAlarms) Next(id domain.AlarmID) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reg, ok := a.armed[id]
	return reg.at, ok
}

func (a *TimerAlarms) fire(id domain.AlarmID, seq uint64) {
	a.mu.Lock()
	reg, ok := a.armed[id]
	if !ok || reg.seq != seq {
		a.mu.Unlock()
		return
	}
	delete(a.armed, id)
	h := a.handler
	a.mu.Unlock()

	a.logger.Info("alarm fired", zap.String("id", string(id)))
	if h != nil {
		h(id)
	}
}

var _ domain.AlarmFacility = (*TimerAlarms)(nil)
