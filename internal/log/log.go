// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package log is a small context-aware logging facade over zap.
//
// Call sites pass their context so that tags attached with logtags.AddTag
// (table id, partition, ...) show up as structured fields:
//
//	ctx = logtags.AddTag(ctx, "table", tableID)
//	log.Infof(ctx, "created version table with %d partitions", n)
//
// The process-wide logger defaults to a no-op logger until SetLogger is
// called, so library code can log unconditionally.
package log

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger    atomic.Pointer[zap.Logger]
	verbosity atomic.Int32
)

func init() {
	logger.Store(zap.NewNop())
}

// Config selects the zap preset and level.
type Config struct {
	Level       string
	Development bool
	// Verbosity gates VEventf messages.
	Verbosity int32
}

// New builds a zap logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.Wrapf(err, "parsing log level %q", cfg.Level)
		}
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	l, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return l, nil
}

// SetLogger installs l as the process-wide logger and returns the previous one.
func SetLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return logger.Swap(l)
}

// SetVerbosity sets the level up to which VEventf messages are emitted.
func SetVerbosity(v int32) {
	verbosity.Store(v)
}

// V reports whether verbosity level v is enabled.
func V(v int32) bool {
	return v <= verbosity.Load()
}

func fields(ctx context.Context) []zap.Field {
	buf := logtags.FromContext(ctx)
	if buf == nil {
		return nil
	}
	tags := buf.Get()
	out := make([]zap.Field, 0, len(tags))
	for _, t := range tags {
		out = append(out, zap.Any(t.Key(), t.Value()))
	}
	return out
}

func emit(ctx context.Context, level zapcore.Level, format string, args ...interface{}) {
	l := logger.Load()
	if ce := l.Check(level, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write(fields(ctx)...)
	}
}

// Infof logs at info level.
func Infof(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, zapcore.InfoLevel, format, args...)
}

// Warningf logs at warn level.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, zapcore.WarnLevel, format, args...)
}

// Errorf logs at error level.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, zapcore.ErrorLevel, format, args...)
}

// VEventf logs at debug level when verbosity level is enabled.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if !V(level) {
		return
	}
	emit(ctx, zapcore.DebugLevel, format, args...)
}
