package errlog

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/nomor/memclear/internal/domain"
)

const defaultTag = "memclear"

// core forwards zap entries at or above its level into a Sink.
type core struct {
	zapcore.LevelEnabler
	sink   *Sink
	fields []zapcore.Field
}

// NewCore returns a zapcore.Core that records entries into sink.
// Tee it with the regular output core.
func NewCore(sink *Sink, level zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: level, sink: sink}
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := &core{LevelEnabler: c.LevelEnabler, sink: c.sink}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := append(append([]zapcore.Field(nil), c.fields...), fields...)

	entry := domain.LogEntry{
		Timestamp:  ent.Time,
		Level:      levelOf(ent.Level),
		Tag:        ent.LoggerName,
		StackTrace: ent.Stack,
	}
	if entry.Tag == "" {
		entry.Tag = defaultTag
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range all {
		if f.Type == zapcore.ErrorType {
			if err, ok := f.Interface.(error); ok && entry.ExceptionType == "" {
				entry.ExceptionType = fmt.Sprintf("%T", err)
				entry.ExceptionMessage = err.Error()
				continue
			}
		}
		f.AddTo(enc)
	}
	entry.Message = ent.Message + formatFields(enc.Fields)

	c.sink.Record(entry)
	return nil
}

func (c *core) Sync() error {
	return nil
}

func levelOf(l zapcore.Level) domain.LogLevel {
	switch {
	case l >= zapcore.ErrorLevel:
		return domain.LevelError
	case l == zapcore.WarnLevel:
		return domain.LevelWarning
	default:
		return domain.LevelInfo
	}
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}
