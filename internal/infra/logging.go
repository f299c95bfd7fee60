package infra

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nomor/memclear/internal/errlog"
)

// LogConfig controls the daemon's rotating log file.
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewDaemonLogger builds a JSON logger writing to a rotating file. Warnings
// and errors are also recorded in sink when it is non-nil. The returned closer
// releases the file.
func NewDaemonLogger(cfg LogConfig, sink *errlog.Sink) (*zap.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
		return nil, nil, err
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(writer), zap.InfoLevel)
	return zap.New(withSink(core, sink), zap.AddCaller()), writer, nil
}

// NewCLILogger builds a console logger on stderr. Only warnings are printed
// unless verbose is set.
func NewCLILogger(verbose bool, sink *errlog.Sink) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.DisableStacktrace = true
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	logger, err := config.Build(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return withSink(c, sink)
	}))
	if err != nil {
		// Fallback keeps the sink even if stderr can't be configured
		return zap.New(withSink(zapcore.NewNopCore(), sink))
	}
	return logger
}

func withSink(core zapcore.Core, sink *errlog.Sink) zapcore.Core {
	if sink == nil {
		return core
	}
	return zapcore.NewTee(core, errlog.NewCore(sink, zap.WarnLevel))
}
