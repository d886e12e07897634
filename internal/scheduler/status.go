package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
)

// StatusStore is the persistence surface the status scheduler uses.
// *db.Postgres implements it.
type StatusStore interface {
	ListMediaBuysByStatus(ctx context.Context, statuses ...string) ([]models.MediaBuy, error)
	CreativeStatusesForMediaBuy(ctx context.Context, tenantID, mediaBuyID string) ([]string, error)
	ApplyStatusChanges(ctx context.Context, changes []db.StatusChange) error
}

// StatusScheduler walks media buy flight windows on a fixed interval:
// scheduled buys go active at their start time, pending buys activate once
// their creatives clear review, delivering buys complete at their end time,
// and unapproved buys whose flight expired are failed.
type StatusScheduler struct {
	Store    StatusStore
	Metrics  observability.MetricsRegistry
	Interval time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func (s *StatusScheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// Start begins the periodic tick. Safe to call more than once.
func (s *StatusScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := newCron()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.Interval), func() {
		s.Tick(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule status tick: %w", err)
	}
	c.Start()
	s.cron = c
	zap.L().Info("status scheduler started", zap.Duration("interval", s.Interval))
	return nil
}

// Stop halts the periodic tick and waits for an in-flight tick to finish.
func (s *StatusScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	zap.L().Info("status scheduler stopped")
}

// Running reports whether the periodic tick is scheduled.
func (s *StatusScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Tick runs one pass over all tenants' in-flight buys and applies every due
// transition in a single transaction.
func (s *StatusScheduler) Tick(ctx context.Context) {
	now := s.now()
	buys, err := s.Store.ListMediaBuysByStatus(ctx,
		adcp.StatusPendingActivation, adcp.StatusScheduled, adcp.StatusActive)
	if err != nil {
		zap.L().Error("status scheduler: list media buys", zap.Error(err))
		return
	}

	var changes []db.StatusChange
	for i := range buys {
		buy := &buys[i]
		next, ok := s.nextStatus(ctx, buy, now)
		if !ok {
			continue
		}
		if !models.CanTransition(buy.Status, next) {
			continue
		}
		changes = append(changes, db.StatusChange{
			TenantID:   buy.TenantID,
			MediaBuyID: buy.MediaBuyID,
			NewStatus:  next,
		})
		zap.L().Info("media buy status transition",
			zap.String("tenant_id", buy.TenantID),
			zap.String("media_buy_id", buy.MediaBuyID),
			zap.String("from", buy.Status),
			zap.String("to", next))
	}
	if len(changes) == 0 {
		return
	}
	if err := s.Store.ApplyStatusChanges(ctx, changes); err != nil {
		zap.L().Error("status scheduler: apply changes", zap.Error(err))
		return
	}
	if s.Metrics != nil {
		for _, c := range changes {
			s.Metrics.IncrementStatusTransitions(c.NewStatus)
		}
	}
}

func (s *StatusScheduler) nextStatus(ctx context.Context, buy *models.MediaBuy, now time.Time) (string, bool) {
	ended := !buy.EndTime.IsZero() && !buy.EndTime.After(now)
	switch buy.Status {
	case adcp.StatusPendingActivation:
		// Flight expired before anyone approved it.
		if ended {
			return adcp.StatusFailed, true
		}
		if buy.StartTime.After(now) {
			return "", false
		}
		ready, err := s.creativesReady(ctx, buy)
		if err != nil {
			zap.L().Warn("status scheduler: creative readiness check failed",
				zap.String("media_buy_id", buy.MediaBuyID), zap.Error(err))
			return "", false
		}
		if ready {
			return adcp.StatusActive, true
		}
	case adcp.StatusScheduled:
		if ended {
			return adcp.StatusCompleted, true
		}
		if !buy.StartTime.After(now) {
			return adcp.StatusActive, true
		}
	case adcp.StatusActive:
		if ended {
			return adcp.StatusCompleted, true
		}
	}
	return "", false
}

// creativesReady reports whether every assigned creative cleared review. A
// buy with no assignments is ready; the ad server decides whether to serve.
func (s *StatusScheduler) creativesReady(ctx context.Context, buy *models.MediaBuy) (bool, error) {
	statuses, err := s.Store.CreativeStatusesForMediaBuy(ctx, buy.TenantID, buy.MediaBuyID)
	if err != nil {
		return false, err
	}
	for _, status := range statuses {
		if status != adcp.CreativeStatusApproved {
			return false, nil
		}
	}
	return true, nil
}
