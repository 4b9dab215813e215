package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface used across the repo.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Info(args ...interface{})
	Debug(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

var _ Logger = (*zap.SugaredLogger)(nil)

// Options configures New.
type Options struct {
	// File receives every log line. Empty disables file output.
	File string
	// Verbose also writes debug and above to stderr.
	Verbose bool
}

// DefaultFile returns ~/.dlv-fixture/dlv-fixture.log.
func DefaultFile() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".dlv-fixture", "dlv-fixture.log"), nil
}

// New builds a zap-backed logger. The returned close function flushes and
// closes the log file.
func New(opts Options) (Logger, func(), error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var cores []zapcore.Core
	var file *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		var err error
		file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), zapcore.DebugLevel))
	}
	if opts.Verbose {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapcore.DebugLevel))
	}
	if len(cores) == 0 {
		return Nop(), func() {}, nil
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))
	closeFn := func() {
		_ = zapLogger.Sync()
		if file != nil {
			file.Close()
		}
	}
	return zapLogger.Sugar(), closeFn, nil
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return zap.NewNop().Sugar()
}

// StdLogger adapts l for APIs that take a standard library logger. Lines are
// logged at error level.
func StdLogger(l Logger) *stdlog.Logger {
	if sugared, ok := l.(*zap.SugaredLogger); ok {
		std, err := zap.NewStdLogAt(sugared.Desugar(), zapcore.ErrorLevel)
		if err == nil {
			return std
		}
	}
	return stdlog.New(io.Discard, "", 0)
}
