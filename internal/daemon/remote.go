package daemon

import (
	"time"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
	"github.com/nomor/memclear/internal/infra"
)

// RemoteAlarms is the alarm facility of CLI processes. Alarms are owned by
// the daemon, so every change asks the running daemon to reload the persisted
// schedule.
type RemoteAlarms struct {
	pidfile   *infra.PIDFile
	logger    *zap.Logger
	delivered bool
}

// NewRemoteAlarms creates a RemoteAlarms signalling the daemon in pidfile.
func NewRemoteAlarms(pidfile *infra.PIDFile, logger *zap.Logger) *RemoteAlarms {
	return &RemoteAlarms{pidfile: pidfile, logger: logger}
}

// SetExact asks the daemon to reload.
func (r *RemoteAlarms) SetExact(id domain.AlarmID, at time.Time) error {
	return r.notify(id)
}

// Cancel asks the daemon to reload.
func (r *RemoteAlarms) Cancel(id domain.AlarmID) error {
	return r.notify(id)
}

// Delivered reports whether a running daemon was signalled.
func (r *RemoteAlarms) Delivered() bool {
	return r.delivered
}

func (r *RemoteAlarms) notify(id domain.AlarmID) error {
	sent, err := NotifyReload(r.pidfile)
	if err != nil {
		return err
	}
	if sent {
		r.delivered = true
		r.logger.Debug("daemon reload requested", zap.String("alarm", string(id)))
	}
	return nil
}

var _ domain.AlarmFacility = (*RemoteAlarms)(nil)
