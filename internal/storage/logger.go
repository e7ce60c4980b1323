package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger 把 gorm 的日志转到 zerolog：慢查询记 warn，出错记 error，其余只在 trace 级别输出。
type gormLogger struct {
	slow time.Duration
}

func newGormLogger(slow time.Duration) logger.Interface {
	if slow <= 0 {
		slow = 500 * time.Millisecond
	}
	return gormLogger{slow: slow}
}

func (l gormLogger) LogMode(logger.LogLevel) logger.Interface { return l }

func (l gormLogger) Info(ctx context.Context, msg string, args ...any) {
	l.event(ctx, zerolog.InfoLevel).Msgf(msg, args...)
}

func (l gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.event(ctx, zerolog.WarnLevel).Msgf(msg, args...)
}

func (l gormLogger) Error(ctx context.Context, msg string, args ...any) {
	l.event(ctx, zerolog.ErrorLevel).Msgf(msg, args...)
}

func (l gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	var ev *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		ev = l.event(ctx, zerolog.ErrorLevel).Err(err)
	case elapsed >= l.slow:
		ev = l.event(ctx, zerolog.WarnLevel).Bool("slow", true)
	default:
		ev = l.event(ctx, zerolog.TraceLevel)
	}
	if !ev.Enabled() {
		return
	}
	sqlText, rows := fc()
	ev.Str("sql", sqlText).Int64("rows", rows).Dur("elapsed", elapsed).Msg("gorm")
}

func (l gormLogger) event(ctx context.Context, level zerolog.Level) *zerolog.Event {
	lg := log.Ctx(ctx)
	if lg.GetLevel() == zerolog.Disabled {
		lg = &log.Logger
	}
	return lg.WithLevel(level).Str("component", "storage")
}
