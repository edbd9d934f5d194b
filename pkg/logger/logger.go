// Package logger is the forecaster's structured logger. Entries go to stderr
// by default so stdout stays free for the forecast table.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a sugared zap logger with helpers for the per-retailer fields
// the pipeline attaches to every entry.
type Logger struct {
	*zap.SugaredLogger
}

// Options controls how New encodes and where it writes.
type Options struct {
	// Level is a zap level name; empty means info.
	Level string
	// Development switches to a colored console encoder.
	Development bool
	// Output receives encoded entries; nil means os.Stderr.
	Output io.Writer
}

var (
	mu     sync.RWMutex
	global = NewNop()
)

// ParseLevel converts a level name (debug, info, warn, error) to a zap level
func ParseLevel(level string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// New builds a logger writing JSON entries, or console entries in
// development mode, to opts.Output.
func New(opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	zapOpts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Development {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
		zapOpts = append(zapOpts, zap.Development())
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "time"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), lvl)
	return &Logger{SugaredLogger: zap.New(core, zapOpts...).Sugar()}, nil
}

// NewFromCore builds a logger on an existing zap core, e.g. an observer in tests
func NewFromCore(core zapcore.Core) *Logger {
	return &Logger{SugaredLogger: zap.New(core).Sugar()}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// InitGlobal replaces the process-wide logger returned by L.
func InitGlobal(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	mu.Lock()
	global = l
	mu.Unlock()
	return nil
}

// L returns the process-wide logger. It discards everything until
// InitGlobal succeeds.
func L() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes the process-wide logger.
func Sync() error {
	return L().Sync()
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(kv...)}
}

// WithRetailer scopes entries to one retailer's pipeline.
func (l *Logger) WithRetailer(retailer string) *Logger {
	return l.With("retailer", retailer)
}

// WithError attaches err; a nil error leaves the logger unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}
