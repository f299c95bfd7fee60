package daemon

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// DeviceInfoSetter receives device details for warning and error log entries.
type DeviceInfoSetter interface {
	SetDevice(info *domain.DeviceInfo)
}

// Device is what the monitor polls.
type Device interface {
	domain.AuthorityChecker
	domain.DeviceInfoProvider
}

// DeviceMonitor tracks whether the device is reachable and authorised.
// It logs connection changes and refreshes the log sink's device details on
// every reconnect.
type DeviceMonitor struct {
	device Device
	sink   DeviceInfoSetter
	logger *zap.Logger

	online atomic.Bool
	seen   atomic.Bool
}

// NewDeviceMonitor creates a monitor. sink may be nil.
func NewDeviceMonitor(device Device, sink DeviceInfoSetter, logger *zap.Logger) *DeviceMonitor {
	return &DeviceMonitor{device: device, sink: sink, logger: logger}
}

// Online reports the result of the last check.
func (m *DeviceMonitor) Online() bool {
	return m.online.Load()
}

// Check polls the device once and returns whether it is online.
func (m *DeviceMonitor) Check(ctx context.Context) bool {
	online := m.device.HasAssistiveAuthority(ctx)
	was := m.online.Swap(online)
	first := !m.seen.Swap(true)

	switch {
	case online && (first || !was):
		m.logger.Info("device connected")
		m.refreshInfo(ctx)
	case !online && (first || was):
		m.logger.Warn("device not reachable")
	}
	return online
}

func (m *DeviceMonitor) refreshInfo(ctx context.Context) {
	if m.sink == nil {
		return
	}
	info, err := m.device.DeviceInfo(ctx)
	if err != nil {
		m.logger.Warn("failed to read device info", zap.Error(err))
		return
	}
	m.sink.SetDevice(info)
	m.logger.Info("device info",
		zap.String("manufacturer", info.Manufacturer),
		zap.String("model", info.Model),
		zap.String("release", info.AndroidVersion),
		zap.Int("sdk", info.APILevel))
}
