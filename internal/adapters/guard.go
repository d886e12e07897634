package adapters

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/observability"
)

// Guard wraps adapter calls with a per-adapter circuit breaker, a call
// timeout, and one bounded retry for transient failures. Platform errors
// surface as adapter_error; deadline hits as timeout_error; an open breaker
// as unavailable_error.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	retries int
	metrics observability.MetricsRegistry
}

// NewGuard builds a guard for one adapter.
func NewGuard(adapterName string, timeout time.Duration, metrics observability.MetricsRegistry) *Guard {
	settings := gobreaker.Settings{
		Name:    adapterName,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("adapter circuit state change",
				zap.String("adapter", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Guard{
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: timeout,
		retries: 1,
		metrics: metrics,
	}
}

// Execute runs fn under the guard. operation names the adapter call for
// metrics and error messages.
func (g *Guard) Execute(ctx context.Context, adapterName, operation string, fn func(ctx context.Context) error) *adcp.Error {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		_, err := g.breaker.Execute(func() (any, error) {
			callCtx := ctx
			if g.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, g.timeout)
				defer cancel()
			}
			return nil, fn(callCtx)
		})
		if g.metrics != nil {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			g.metrics.IncrementAdapterCalls(adapterName, operation, outcome)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return adcp.Errorf(adcp.CodeUnavailable, "%s is temporarily unavailable", adapterName)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return adcp.Errorf(adcp.CodeTimeout, "%s %s timed out", adapterName, operation)
		}
		if errors.Is(err, context.Canceled) {
			return adcp.WrapError(adcp.CodeAdapter, adapterName+" "+operation+" canceled", err)
		}
		if !transient(err) {
			break
		}
		if attempt < g.retries {
			zap.L().Debug("retrying adapter call",
				zap.String("adapter", adapterName),
				zap.String("operation", operation),
				zap.Error(err))
		}
	}
	return adcp.WrapError(adcp.CodeAdapter, adapterName+" "+operation+" failed", lastErr)
}

// transient reports whether a failed call may succeed on another attempt.
// Deterministic platform rejections are never retried; rate limits, server
// faults, and network-level failures are.
func transient(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
