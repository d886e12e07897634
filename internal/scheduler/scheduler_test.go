package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
	"github.com/openadcp/salesagent/internal/webhooks"
)

var testNow = time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)

type fakeStatusStore struct {
	buys             map[string]*models.MediaBuy
	creativeStatuses map[string][]string
	applied          []db.StatusChange
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{
		buys:             map[string]*models.MediaBuy{},
		creativeStatuses: map[string][]string{},
	}
}

func (f *fakeStatusStore) ListMediaBuysByStatus(_ context.Context, statuses ...string) ([]models.MediaBuy, error) {
	var out []models.MediaBuy
	for _, buy := range f.buys {
		for _, s := range statuses {
			if buy.Status == s {
				out = append(out, *buy)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStatusStore) CreativeStatusesForMediaBuy(_ context.Context, _, mediaBuyID string) ([]string, error) {
	return f.creativeStatuses[mediaBuyID], nil
}

func (f *fakeStatusStore) ApplyStatusChanges(_ context.Context, changes []db.StatusChange) error {
	for _, c := range changes {
		f.buys[c.MediaBuyID].Status = c.NewStatus
	}
	f.applied = append(f.applied, changes...)
	return nil
}

func (f *fakeStatusStore) seedBuy(id, status string, start, end time.Time) {
	f.buys[id] = &models.MediaBuy{
		MediaBuyID: id,
		TenantID:   "t1",
		Status:     status,
		StartTime:  start,
		EndTime:    end,
	}
}

func statusScheduler(store *fakeStatusStore) *StatusScheduler {
	return &StatusScheduler{
		Store:    store,
		Metrics:  observability.NewNoOpRegistry(),
		Interval: time.Minute,
		Clock:    func() time.Time { return testNow },
	}
}

func TestTickActivatesScheduledBuy(t *testing.T) {
	store := newFakeStatusStore()
	store.seedBuy("mb_1", adcp.StatusScheduled, testNow.Add(-time.Hour), testNow.Add(24*time.Hour))
	// Scheduled buys already passed approval; creative review does not hold
	// them back at start time.
	store.creativeStatuses["mb_1"] = []string{adcp.CreativeStatusPendingReview}

	statusScheduler(store).Tick(context.Background())
	assert.Equal(t, adcp.StatusActive, store.buys["mb_1"].Status)
}

func TestTickActivatesApprovedPendingBuy(t *testing.T) {
	store := newFakeStatusStore()
	store.seedBuy("mb_1", adcp.StatusPendingActivation, testNow.Add(-time.Hour), testNow.Add(24*time.Hour))
	store.creativeStatuses["mb_1"] = []string{adcp.CreativeStatusApproved, adcp.CreativeStatusApproved}

	statusScheduler(store).Tick(context.Background())
	assert.Equal(t, adcp.StatusActive, store.buys["mb_1"].Status)
}

func TestTickWaitsForCreativeReview(t *testing.T) {
	store := newFakeStatusStore()
	store.seedBuy("mb_1", adcp.StatusPendingActivation, testNow.Add(-time.Hour), testNow.Add(24*time.Hour))
	store.creativeStatuses["mb_1"] = []string{adcp.CreativeStatusApproved, adcp.CreativeStatusPendingReview}

	statusScheduler(store).Tick(context.Background())
	assert.Equal(t, adcp.StatusPendingActivation, store.buys["mb_1"].Status)

	store.creativeStatuses["mb_1"] = []string{adcp.CreativeStatusApproved, adcp.CreativeStatusApproved}
	statusScheduler(store).Tick(context.Background())
	assert.Equal(t, adcp.StatusActive, store.buys["mb_1"].Status)
}

func TestTickLeavesFutureBuyScheduled(t *testing.T) {
	store := newFakeStatusStore()
	store.seedBuy("mb_1", adcp.StatusScheduled, testNow.Add(time.Hour), testNow.Add(24*time.Hour))

	statusScheduler(store).Tick(context.Background())
	assert.Equal(t, adcp.StatusScheduled, store.buys["mb_1"].Status)
	assert.Empty(t, store.applied)
}

func TestTickCompletesEndedBuys(t *testing.T) {
	store := newFakeStatusStore()
	store.seedBuy("mb_active", adcp.StatusActive, testNow.Add(-48*time.Hour), testNow.Add(-time.Hour))
	store.seedBuy("mb_scheduled", adcp.StatusScheduled, testNow.Add(-48*time.Hour), testNow.Add(-time.Hour))

	statusScheduler(store).Tick(context.Background())
	assert.Equal(t, adcp.StatusCompleted, store.buys["mb_active"].Status)
	assert.Equal(t, adcp.StatusCompleted, store.buys["mb_scheduled"].Status)
}

func TestTickFailsExpiredUnapprovedBuy(t *testing.T) {
	store := newFakeStatusStore()
	store.seedBuy("mb_1", adcp.StatusPendingActivation, testNow.Add(-48*time.Hour), testNow.Add(-time.Hour))
	store.seedBuy("mb_2", adcp.StatusPendingActivation, testNow.Add(-time.Hour), testNow.Add(24*time.Hour))
	store.creativeStatuses["mb_2"] = []string{adcp.CreativeStatusPendingReview}

	statusScheduler(store).Tick(context.Background())
	assert.Equal(t, adcp.StatusFailed, store.buys["mb_1"].Status)
	assert.Equal(t, adcp.StatusPendingActivation, store.buys["mb_2"].Status)
}

type fakeWebhookStore struct {
	buys    map[string]*models.MediaBuy
	configs map[string]*models.PushNotificationConfig
	logs    []models.WebhookDeliveryLog
}

func newFakeWebhookStore() *fakeWebhookStore {
	return &fakeWebhookStore{
		buys:    map[string]*models.MediaBuy{},
		configs: map[string]*models.PushNotificationConfig{},
	}
}

func (f *fakeWebhookStore) ListMediaBuysByStatus(_ context.Context, statuses ...string) ([]models.MediaBuy, error) {
	var out []models.MediaBuy
	for _, buy := range f.buys {
		for _, s := range statuses {
			if buy.Status == s {
				out = append(out, *buy)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeWebhookStore) GetMediaBuy(_ context.Context, _, mediaBuyID string) (*models.MediaBuy, error) {
	return f.buys[mediaBuyID], nil
}

func (f *fakeWebhookStore) GetTenantByID(_ context.Context, tenantID string) (*models.Tenant, error) {
	return &models.Tenant{TenantID: tenantID, AdServer: models.AdServerMock}, nil
}

func (f *fakeWebhookStore) GetPushConfig(_ context.Context, _, mediaBuyID string) (*models.PushNotificationConfig, error) {
	return f.configs[mediaBuyID], nil
}

func (f *fakeWebhookStore) HasSuccessfulWebhook(_ context.Context, _, mediaBuyID string, periodStart time.Time) (bool, error) {
	for _, log := range f.logs {
		if log.MediaBuyID == mediaBuyID && log.PeriodStart.Equal(periodStart) && log.Success {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWebhookStore) NextWebhookSequence(_ context.Context, _, mediaBuyID string) (int, error) {
	max := 0
	for _, log := range f.logs {
		if log.MediaBuyID == mediaBuyID && log.SequenceNumber > max {
			max = log.SequenceNumber
		}
	}
	return max + 1, nil
}

func (f *fakeWebhookStore) InsertWebhookLog(_ context.Context, log *models.WebhookDeliveryLog) error {
	f.logs = append(f.logs, *log)
	return nil
}

func (f *fakeWebhookStore) seedBuy(id, status, webhookURL string, end time.Time) {
	raw, _ := json.Marshal(map[string]any{
		"reporting_webhook": map[string]any{
			"url":       webhookURL,
			"frequency": "daily",
			"authentication": map[string]any{
				"type":        "bearer",
				"credentials": "inline-token",
			},
		},
	})
	f.buys[id] = &models.MediaBuy{
		MediaBuyID: id,
		TenantID:   "t1",
		Status:     status,
		Currency:   "USD",
		StartTime:  testNow.Add(-10 * 24 * time.Hour),
		EndTime:    end,
		RawRequest: raw,
	}
}

type fakeReporter struct {
	impressions int64
}

func (f *fakeReporter) DeliveryForBuy(_ context.Context, _ *models.Tenant, buy *models.MediaBuy, _, _ time.Time) (*adcp.MediaBuyDelivery, error) {
	return &adcp.MediaBuyDelivery{
		MediaBuyID: buy.MediaBuyID,
		Status:     buy.Status,
		Totals:     adcp.DeliveryTotals{Impressions: f.impressions},
	}, nil
}

func webhookScheduler(store *fakeWebhookStore) *WebhookScheduler {
	return &WebhookScheduler{
		Store:    store,
		Reporter: &fakeReporter{impressions: 12000},
		Sender:   webhooks.NewSender(5*time.Second, nil),
		Metrics:  observability.NewNoOpRegistry(),
		Interval: time.Hour,
		Clock:    func() time.Time { return testNow },
	}
}

func TestTickSendsDailyReportOnce(t *testing.T) {
	var received []ReportPayload
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload ReportPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received = append(received, payload)
		auths = append(auths, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	store.seedBuy("mb_1", adcp.StatusActive, srv.URL, testNow.Add(10*24*time.Hour))
	sched := webhookScheduler(store)

	sched.Tick(context.Background())
	require.Len(t, received, 1)
	assert.Equal(t, "mb_1_report_1", received[0].TaskID)
	assert.Equal(t, "media_buy_delivery", received[0].TaskType)
	assert.Equal(t, "completed", received[0].Status)
	assert.Equal(t, "scheduled", received[0].Result.NotificationType)
	assert.NotNil(t, received[0].Result.NextExpectedAt)
	require.Len(t, received[0].Result.Deliveries, 1)
	assert.Equal(t, int64(12000), received[0].Result.Deliveries[0].Totals.Impressions)
	assert.Equal(t, "Bearer inline-token", auths[0])

	// The report covers the previous UTC day.
	wantStart := time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)
	require.Len(t, store.logs, 1)
	assert.True(t, store.logs[0].PeriodStart.Equal(wantStart))
	assert.True(t, store.logs[0].Success)

	// A second wake within the same day sends nothing.
	sched.Tick(context.Background())
	assert.Len(t, received, 1)
}

func TestTickSkipsBuysWithoutWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no webhook should be sent")
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	store.buys["mb_plain"] = &models.MediaBuy{
		MediaBuyID: "mb_plain",
		TenantID:   "t1",
		Status:     adcp.StatusActive,
		EndTime:    testNow.Add(24 * time.Hour),
	}
	webhookScheduler(store).Tick(context.Background())
	assert.Empty(t, store.logs)
}

func TestFinalReportForCompletedBuy(t *testing.T) {
	var received []ReportPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload ReportPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received = append(received, payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	// Flight ended during the previous UTC day.
	store.seedBuy("mb_done", adcp.StatusCompleted, srv.URL, time.Date(2026, 6, 14, 18, 0, 0, 0, time.UTC))
	webhookScheduler(store).Tick(context.Background())

	require.Len(t, received, 1)
	assert.Equal(t, "final", received[0].Result.NotificationType)
	assert.Nil(t, received[0].Result.NextExpectedAt)

	// Flight ended before the reporting period; nothing more is owed.
	store2 := newFakeWebhookStore()
	store2.seedBuy("mb_old", adcp.StatusCompleted, srv.URL, time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC))
	webhookScheduler(store2).Tick(context.Background())
	assert.Empty(t, store2.logs)
}

func TestPushConfigOverridesInlineAuth(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	store.seedBuy("mb_1", adcp.StatusActive, srv.URL, testNow.Add(24*time.Hour))
	store.configs["mb_1"] = &models.PushNotificationConfig{
		TenantID:   "t1",
		MediaBuyID: "mb_1",
		URL:        srv.URL,
		AuthType:   "bearer",
		AuthToken:  "durable-token",
		Active:     true,
	}
	webhookScheduler(store).Tick(context.Background())
	assert.Equal(t, "Bearer durable-token", auth)
}

func TestTriggerReportBypassesDedup(t *testing.T) {
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		count++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	store.seedBuy("mb_1", adcp.StatusActive, srv.URL, testNow.Add(24*time.Hour))
	sched := webhookScheduler(store)

	sched.Tick(context.Background())
	require.NoError(t, sched.TriggerReportForMediaBuy(context.Background(), "t1", "mb_1"))
	assert.Equal(t, 2, count)
	require.Len(t, store.logs, 2)
	assert.Equal(t, 2, store.logs[1].SequenceNumber)
}

func TestWebhookFailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	store.seedBuy("mb_1", adcp.StatusActive, srv.URL, testNow.Add(24*time.Hour))
	sched := webhookScheduler(store)

	sched.Tick(context.Background())
	require.Len(t, store.logs, 1)
	assert.False(t, store.logs[0].Success)
	assert.Equal(t, http.StatusBadGateway, store.logs[0].StatusCode)

	// Failures do not consume the dedup slot; the next tick retries.
	srvOK := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srvOK.Close()
	store.seedBuy("mb_1", adcp.StatusActive, srvOK.URL, testNow.Add(24*time.Hour))
	sched.Tick(context.Background())
	require.Len(t, store.logs, 2)
	assert.True(t, store.logs[1].Success)
	assert.Equal(t, 2, store.logs[1].SequenceNumber)
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	store := newFakeStatusStore()
	sched := statusScheduler(store)
	require.NoError(t, sched.Start())
	require.NoError(t, sched.Start())
	sched.Stop()
	sched.Stop()
}
