package errlog

import (
	"fmt"
	"runtime/debug"

	"github.com/nomor/memclear/internal/domain"
)

// ReportPanic records a recovered panic value with its stack as an ERROR entry.
func (s *Sink) ReportPanic(tag string, recovered any, stack []byte) {
	entry := domain.LogEntry{
		Level:            domain.LevelError,
		Tag:              tag,
		Message:          "uncaught panic",
		ExceptionType:    fmt.Sprintf("%T", recovered),
		ExceptionMessage: fmt.Sprint(recovered),
		StackTrace:       string(stack),
	}
	if err, ok := recovered.(error); ok {
		entry.ExceptionMessage = err.Error()
	}
	s.Record(entry)
}

// CapturePanic is deferred at goroutine roots. It records and swallows a panic.
//
//	defer sink.CapturePanic("daemon")
func (s *Sink) CapturePanic(tag string) {
	if r := recover(); r != nil {
		s.ReportPanic(tag, r, debug.Stack())
	}
}
