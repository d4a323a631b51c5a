// Package logging provides the worker's structured, PII-masked logger,
// built on top of go.uber.org/zap as a process-wide zap.Logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"transcode-worker/internal/pii"
)

// Logger wraps a *zap.Logger, masking PII out of every message and every
// string-typed field before it reaches the sink, mirroring the reference
// implementation's Logger.build_entry.
type Logger struct {
	z *zap.Logger
}

// New builds a JSON-encoded, worker-scoped logger.
func New(workerID string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.With(zap.String("worker_id", workerID))}
}

// Field is a masked key/value pair for a log line.
type Field = zap.Field

func mask(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			f.String = pii.Mask(f.String)
		}
		out[i] = f
	}
	return out
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.z.Info(pii.Mask(msg), mask(fields)...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.z.Error(pii.Mask(msg), mask(fields)...)
}

func (l *Logger) Fatal(msg string, fields ...Field) {
	l.z.Fatal(pii.Mask(msg), mask(fields)...)
}

// With returns a child logger carrying additional fields on every entry.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(mask(fields)...)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Field constructors re-exported for call-site convenience.
var (
	String = zap.String
	Int    = zap.Int
	Int64  = zap.Int64
	Float64 = zap.Float64
	Err    = zap.Error
	Bool   = zap.Bool
	Any    = zap.Any
)
