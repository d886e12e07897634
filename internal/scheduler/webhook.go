package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
	"github.com/openadcp/salesagent/internal/webhooks"
)

// WebhookStore is the persistence surface the reporting scheduler uses.
// *db.Postgres implements it.
type WebhookStore interface {
	ListMediaBuysByStatus(ctx context.Context, statuses ...string) ([]models.MediaBuy, error)
	GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error)
	GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetPushConfig(ctx context.Context, tenantID, mediaBuyID string) (*models.PushNotificationConfig, error)
	HasSuccessfulWebhook(ctx context.Context, tenantID, mediaBuyID string, periodStart time.Time) (bool, error)
	NextWebhookSequence(ctx context.Context, tenantID, mediaBuyID string) (int, error)
	InsertWebhookLog(ctx context.Context, log *models.WebhookDeliveryLog) error
}

// DeliveryReporter builds one buy's delivery report. *lifecycle.Engine
// implements it.
type DeliveryReporter interface {
	DeliveryForBuy(ctx context.Context, tenant *models.Tenant, buy *models.MediaBuy, start, end time.Time) (*adcp.MediaBuyDelivery, error)
}

// ReportPayload is the notification body posted to a reporting webhook. It
// follows the async task envelope so buyers can process push reports with the
// same handler as task completions.
type ReportPayload struct {
	TaskID   string       `json:"task_id"`
	TaskType string       `json:"task_type"`
	Status   string       `json:"status"`
	Result   ReportResult `json:"result"`
}

// ReportResult carries the delivery report and its scheduling metadata.
type ReportResult struct {
	NotificationType string                 `json:"notification_type"`
	ReportingPeriod  adcp.ReportingPeriod   `json:"reporting_period"`
	NextExpectedAt   *adcp.AwareTime        `json:"next_expected_at,omitempty"`
	Currency         string                 `json:"currency,omitempty"`
	PartialData      bool                   `json:"partial_data"`
	UnavailableCount int                    `json:"unavailable_count"`
	Deliveries       []adcp.MediaBuyDelivery `json:"media_buy_deliveries"`
}

// WebhookScheduler pushes daily delivery reports to buys that registered a
// reporting webhook. Reports cover the previous UTC day and are deduplicated
// per (buy, period), so the scheduler can wake far more often than it sends.
type WebhookScheduler struct {
	Store    WebhookStore
	Reporter DeliveryReporter
	Sender   *webhooks.Sender
	Metrics  observability.MetricsRegistry
	Interval time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func (s *WebhookScheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// Start begins the periodic tick. Safe to call more than once.
func (s *WebhookScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := newCron()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.Interval), func() {
		s.Tick(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule webhook tick: %w", err)
	}
	c.Start()
	s.cron = c
	zap.L().Info("webhook scheduler started", zap.Duration("interval", s.Interval))
	return nil
}

// Stop halts the periodic tick and waits for an in-flight tick to finish.
func (s *WebhookScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	zap.L().Info("webhook scheduler stopped")
}

// Running reports whether the periodic tick is scheduled.
func (s *WebhookScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Tick sends the previous UTC day's report to every delivering buy with a
// registered webhook that has not received it yet.
func (s *WebhookScheduler) Tick(ctx context.Context) {
	buys, err := s.Store.ListMediaBuysByStatus(ctx, adcp.StatusActive, adcp.StatusCompleted)
	if err != nil {
		zap.L().Error("webhook scheduler: list media buys", zap.Error(err))
		return
	}
	now := s.now()
	periodEnd := now.Truncate(24 * time.Hour)
	periodStart := periodEnd.Add(-24 * time.Hour)

	for i := range buys {
		buy := &buys[i]
		webhook := buy.ReportingWebhook()
		if webhook == nil || !dailyFrequency(webhook.Frequency) {
			continue
		}
		// A completed buy owes exactly one final report for the day its
		// flight ended; skip once the period has moved past the flight.
		if buy.Status == adcp.StatusCompleted && !buy.EndTime.After(periodStart) {
			continue
		}
		sent, err := s.Store.HasSuccessfulWebhook(ctx, buy.TenantID, buy.MediaBuyID, periodStart)
		if err != nil {
			zap.L().Error("webhook scheduler: dedup query",
				zap.String("media_buy_id", buy.MediaBuyID), zap.Error(err))
			continue
		}
		if sent {
			continue
		}
		if err := s.sendReport(ctx, buy, webhook, periodStart, periodEnd); err != nil {
			zap.L().Warn("webhook scheduler: report delivery failed",
				zap.String("media_buy_id", buy.MediaBuyID), zap.Error(err))
		}
	}
}

// TriggerReportForMediaBuy sends the previous UTC day's report for one buy
// immediately, bypassing the dedup check. Used by the testing endpoints.
func (s *WebhookScheduler) TriggerReportForMediaBuy(ctx context.Context, tenantID, mediaBuyID string) error {
	buy, err := s.Store.GetMediaBuy(ctx, tenantID, mediaBuyID)
	if err != nil {
		return err
	}
	if buy == nil {
		return fmt.Errorf("media buy %s not found", mediaBuyID)
	}
	webhook := buy.ReportingWebhook()
	if webhook == nil {
		return fmt.Errorf("media buy %s has no reporting webhook", mediaBuyID)
	}
	now := s.now()
	periodEnd := now.Truncate(24 * time.Hour)
	periodStart := periodEnd.Add(-24 * time.Hour)
	return s.sendReport(ctx, buy, webhook, periodStart, periodEnd)
}

func (s *WebhookScheduler) sendReport(ctx context.Context, buy *models.MediaBuy, webhook *adcp.ReportingWebhook, periodStart, periodEnd time.Time) error {
	tenant, err := s.Store.GetTenantByID(ctx, buy.TenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return fmt.Errorf("tenant %s not found", buy.TenantID)
	}
	delivery, err := s.Reporter.DeliveryForBuy(ctx, tenant, buy, periodStart, periodEnd)
	if err != nil {
		s.countDelivery("failed")
		return err
	}
	seq, err := s.Store.NextWebhookSequence(ctx, buy.TenantID, buy.MediaBuyID)
	if err != nil {
		return err
	}

	final := !buy.EndTime.IsZero() && !buy.EndTime.After(periodEnd)
	result := ReportResult{
		NotificationType: "scheduled",
		ReportingPeriod: adcp.ReportingPeriod{
			Start: adcp.AwareTime{Time: periodStart},
			End:   adcp.AwareTime{Time: periodEnd},
		},
		Currency:   buy.Currency,
		Deliveries: []adcp.MediaBuyDelivery{*delivery},
	}
	if final {
		result.NotificationType = "final"
	} else {
		result.NextExpectedAt = &adcp.AwareTime{Time: periodEnd.Add(24 * time.Hour)}
	}
	payload := ReportPayload{
		TaskID:   fmt.Sprintf("%s_report_%d", buy.MediaBuyID, seq),
		TaskType: "media_buy_delivery",
		Status:   "completed",
		Result:   result,
	}

	endpoint, err := s.resolveEndpoint(ctx, buy, webhook)
	if err != nil {
		return err
	}
	statusCode, sendErr := s.Sender.Send(ctx, endpoint, payload)

	log := &models.WebhookDeliveryLog{
		TenantID:       buy.TenantID,
		MediaBuyID:     buy.MediaBuyID,
		SequenceNumber: seq,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Success:        sendErr == nil,
		StatusCode:     statusCode,
		SentAt:         s.now(),
	}
	if sendErr != nil {
		log.ErrorDetail = sendErr.Error()
	}
	if err := s.Store.InsertWebhookLog(ctx, log); err != nil {
		zap.L().Error("webhook scheduler: record delivery log",
			zap.String("media_buy_id", buy.MediaBuyID), zap.Error(err))
	}

	if sendErr != nil {
		s.countDelivery("failed")
		return sendErr
	}
	s.countDelivery("sent")
	zap.L().Info("delivery report sent",
		zap.String("media_buy_id", buy.MediaBuyID),
		zap.Int("sequence", seq),
		zap.String("notification_type", result.NotificationType))
	return nil
}

// resolveEndpoint prefers a durable push notification config and falls back
// to the credentials registered inline on the create request.
func (s *WebhookScheduler) resolveEndpoint(ctx context.Context, buy *models.MediaBuy, webhook *adcp.ReportingWebhook) (webhooks.Endpoint, error) {
	cfg, err := s.Store.GetPushConfig(ctx, buy.TenantID, buy.MediaBuyID)
	if err != nil {
		return webhooks.Endpoint{}, err
	}
	if cfg != nil {
		return webhooks.Endpoint{URL: cfg.URL, AuthType: cfg.AuthType, AuthToken: cfg.AuthToken}, nil
	}
	endpoint := webhooks.Endpoint{URL: webhook.URL}
	if auth := webhook.Authentication; auth != nil {
		endpoint.AuthType = auth.Type
		endpoint.AuthToken = auth.Credentials
	}
	return endpoint, nil
}

func (s *WebhookScheduler) countDelivery(outcome string) {
	if s.Metrics != nil {
		s.Metrics.IncrementWebhookDeliveries(outcome)
	}
}

func dailyFrequency(frequency string) bool {
	return frequency == "" || frequency == "daily"
}
