package scheduler

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to the cron logger interface so recovered tick panics
// land in the structured log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	zap.L().Sugar().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.L().Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// newCron builds a runner that recovers panicking ticks instead of taking the
// process down.
func newCron() *cron.Cron {
	return cron.New(cron.WithChain(cron.Recover(cronLogger{})))
}
