// Package errlog keeps a bounded, persisted log of warnings, errors and panics
// that the user can view, export and clear.
package errlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nomor/memclear/internal/domain"
)

const (
	// DefaultCapacity is the number of entries kept before the oldest is dropped.
	DefaultCapacity = 100

	storeKey = "error_logs"
)

// Sink is a ring buffer of domain.LogEntry persisted in a PreferencesStore.
type Sink struct {
	mu       sync.Mutex
	store    domain.PreferencesStore
	entries  []domain.LogEntry // oldest first
	capacity int
	device   *domain.DeviceInfo
	now      func() time.Time
	lastErr  error
}

// Option configures a Sink.
type Option func(*Sink)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New loads any persisted entries from store. store may be nil for an
// in-memory sink.
func New(store domain.PreferencesStore, opts ...Option) (*Sink, error) {
	s := &Sink{
		store:    store,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if store == nil {
		return s, nil
	}

	raw, ok, err := store.Get(storeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load error log: %w", err)
	}
	s.entries = s.trim(decode(raw, ok))
	return s, nil
}

// SetDevice sets the device description attached to WARNING and ERROR entries.
func (s *Sink) SetDevice(info *domain.DeviceInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = info
}

// Record appends entry, dropping the oldest when full. With a store, the
// append is applied to the persisted log under the store's write lock so
// other processes sharing it neither lose entries nor resurrect cleared ones.
func (s *Sink) Record(entry domain.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.Level == "" {
		entry.Level = domain.LevelInfo
	}
	if entry.Device == nil && entry.Level != domain.LevelInfo && s.device != nil {
		d := *s.device
		entry.Device = &d
	}

	if s.store == nil {
		s.entries = s.trim(append(s.entries, entry))
		return
	}

	var merged []domain.LogEntry
	err := s.store.Update(storeKey, func(raw string, ok bool) (string, error) {
		merged = s.trim(append(decode(raw, ok), entry))
		data, err := json.Marshal(merged)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	// Failures are kept for LastPersistError since logging them would feed
	// back into the sink.
	s.lastErr = err
	if err != nil {
		s.entries = s.trim(append(s.entries, entry))
		return
	}
	s.entries = merged
}

// Info records an INFO entry.
func (s *Sink) Info(tag, message string) {
	s.Record(domain.LogEntry{Level: domain.LevelInfo, Tag: tag, Message: message})
}

// Warn records a WARNING entry.
func (s *Sink) Warn(tag, message string, err error) {
	s.Record(withError(domain.LogEntry{Level: domain.LevelWarning, Tag: tag, Message: message}, err))
}

// Error records an ERROR entry.
func (s *Sink) Error(tag, message string, err error) {
	s.Record(withError(domain.LogEntry{Level: domain.LevelError, Tag: tag, Message: message}, err))
}

// Entries returns a copy, most recent first. With a store, the persisted log
// is reloaded so entries written by other processes are included.
func (s *Sink) Entries() []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if raw, ok, err := s.store.Get(storeKey); err == nil {
			s.entries = s.trim(decode(raw, ok))
		}
	}

	out := make([]domain.LogEntry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out
}

// Clear drops every entry, in memory and in the store.
func (s *Sink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	if s.store == nil {
		return nil
	}
	return s.store.Delete(storeKey)
}

// LastPersistError returns the most recent store write failure, if any.
func (s *Sink) LastPersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Sink) trim(entries []domain.LogEntry) []domain.LogEntry {
	if over := len(entries) - s.capacity; over > 0 {
		return append([]domain.LogEntry(nil), entries[over:]...)
	}
	return entries
}

// decode treats a missing or corrupt log as empty.
func decode(raw string, ok bool) []domain.LogEntry {
	if !ok || raw == "" {
		return nil
	}
	var entries []domain.LogEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	return entries
}

// Format renders entries most recent first as plain text for export.
func (s *Sink) Format() string {
	entries := s.Entries()
	var b strings.Builder
	fmt.Fprintf(&b, "memclear error log (%d entries)\n", len(entries))
	for _, e := range entries {
		b.WriteString("\n")
		fmt.Fprintf(&b, "[%s] %s/%s: %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Tag, e.Message)
		if e.ExceptionType != "" {
			fmt.Fprintf(&b, "  %s: %s\n", e.ExceptionType, e.ExceptionMessage)
		}
		if e.Device != nil {
			fmt.Fprintf(&b, "  device: %s %s (%s) android %s api %d\n",
				e.Device.Manufacturer, e.Device.Model, e.Device.Device, e.Device.AndroidVersion, e.Device.APILevel)
		}
		if e.StackTrace != "" {
			for _, line := range strings.Split(strings.TrimRight(e.StackTrace, "\n"), "\n") {
				b.WriteString("    ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func withError(entry domain.LogEntry, err error) domain.LogEntry {
	if err != nil {
		entry.ExceptionType = fmt.Sprintf("%T", err)
		entry.ExceptionMessage = err.Error()
	}
	return entry
}

var _ domain.ErrorSink = (*Sink)(nil)
