package inventory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadcp/salesagent/internal/adapters"
	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
)

type invKey struct {
	inventoryType string
	inventoryID   string
}

type fakeStore struct {
	rows map[invKey]models.InventoryRow
	jobs map[string]*models.SyncJob
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows: map[invKey]models.InventoryRow{},
		jobs: map[string]*models.SyncJob{},
	}
}

func (f *fakeStore) LoadInventoryIDMap(_ context.Context, _, inventoryType string) (map[string]bool, error) {
	ids := map[string]bool{}
	for k := range f.rows {
		if k.inventoryType == inventoryType {
			ids[k.inventoryID] = true
		}
	}
	return ids, nil
}

func (f *fakeStore) BulkUpsertInventory(_ context.Context, rows []models.InventoryRow) error {
	for _, row := range rows {
		f.rows[invKey{row.InventoryType, row.InventoryID}] = row
	}
	return nil
}

func (f *fakeStore) MarkInventoryStale(_ context.Context, _ string, types []string, syncStart time.Time) (int64, error) {
	var n int64
	for k, row := range f.rows {
		for _, t := range types {
			if k.inventoryType == t && row.LastSynced.Before(syncStart) && row.Status != models.InventoryStale {
				row.Status = models.InventoryStale
				f.rows[k] = row
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeStore) CountInventory(_ context.Context, _, inventoryType string) (int, error) {
	n := 0
	for k := range f.rows {
		if k.inventoryType == inventoryType {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertSyncJob(_ context.Context, job *models.SyncJob) error {
	clone := *job
	f.jobs[job.SyncID] = &clone
	return nil
}

func (f *fakeStore) CompleteSyncJob(_ context.Context, syncID, status string, summary json.RawMessage, errorDetail string) error {
	job := f.jobs[syncID]
	job.Status = status
	job.Summary = summary
	job.ErrorDetail = errorDetail
	now := time.Now().UTC()
	job.CompletedAt = &now
	return nil
}

func (f *fakeStore) GetSyncJob(_ context.Context, syncID string) (*models.SyncJob, error) {
	return f.jobs[syncID], nil
}

func (f *fakeStore) LastSyncStart(_ context.Context, tenantID, adapterName string) (time.Time, error) {
	var last time.Time
	for _, job := range f.jobs {
		if job.TenantID == tenantID && job.AdapterName == adapterName &&
			job.Status == models.SyncCompleted && job.StartedAt.After(last) {
			last = job.StartedAt
		}
	}
	return last, nil
}

func (f *fakeStore) countByStatus(inventoryType, status string) int {
	n := 0
	for k, row := range f.rows {
		if k.inventoryType == inventoryType && row.Status == status {
			n++
		}
	}
	return n
}

func testEngine(store *fakeStore) (*Engine, *models.Tenant) {
	engine := &Engine{
		Store:    store,
		Adapters: map[string]adapters.Adapter{models.AdServerMock: adapters.NewMockAdapter()},
		Metrics:  observability.NewNoOpRegistry(),
		Clock:    func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
	tenant := &models.Tenant{TenantID: "t1", AdServer: models.AdServerMock}
	return engine, tenant
}

func decodeSummary(t *testing.T, raw json.RawMessage) map[string]TypeSummary {
	t.Helper()
	var summary map[string]TypeSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	return summary
}

func TestFullSyncDiscoversEverything(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)

	resp, aerr := engine.Sync(context.Background(), tenant, &Request{})
	require.Nil(t, aerr)
	assert.Equal(t, models.SyncCompleted, resp.Status)
	assert.Empty(t, resp.Errors)

	summary := decodeSummary(t, resp.Summary)
	assert.Equal(t, 3, summary[models.InventoryAdUnit].Created)
	assert.Equal(t, 1, summary[models.InventoryPlacement].Created)
	assert.Equal(t, 1, summary[models.InventoryLabel].Created)
	assert.Equal(t, 1, summary[models.InventoryCustomTargetingKey].Created)
	assert.Equal(t, 1, summary[models.InventoryAudienceSegment].Created)

	// Keys sync without their values; those load lazily per key.
	n, err := store.CountInventory(context.Background(), "t1", models.InventoryCustomTargetingValue)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	for _, row := range store.rows {
		assert.Equal(t, engine.Clock(), row.LastSynced)
		assert.Equal(t, models.InventoryActive, row.Status)
	}
}

func TestResyncCountsUpdates(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)

	_, aerr := engine.Sync(context.Background(), tenant, &Request{})
	require.Nil(t, aerr)

	resp, aerr := engine.Sync(context.Background(), tenant, &Request{})
	require.Nil(t, aerr)

	summary := decodeSummary(t, resp.Summary)
	for inventoryType, s := range summary {
		assert.Zerof(t, s.Created, "type %s should have no new rows", inventoryType)
	}
	assert.Equal(t, 3, summary[models.InventoryAdUnit].Updated)
	assert.Equal(t, 1, summary[models.InventoryCustomTargetingKey].Updated)
}

func TestEagerValueSyncIsBounded(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)

	resp, aerr := engine.Sync(context.Background(), tenant, &Request{MaxValuesPerKey: 2})
	require.Nil(t, aerr)

	// The "section" key has three values; the cap keeps two.
	summary := decodeSummary(t, resp.Summary)
	assert.Equal(t, 3, summary[models.InventoryCustomTargetingKey].Created)
	n, err := store.CountInventory(context.Background(), "t1", models.InventoryCustomTargetingValue)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	resp, aerr = engine.Sync(context.Background(), tenant, &Request{MaxValuesPerKey: 10})
	require.Nil(t, aerr)
	summary = decodeSummary(t, resp.Summary)
	assert.Equal(t, 1, summary[models.InventoryCustomTargetingKey].Created)
	n, err = store.CountInventory(context.Background(), "t1", models.InventoryCustomTargetingValue)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFullSyncMarksMissingRowsStale(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)

	// A placement the ad server no longer returns.
	store.rows[invKey{models.InventoryPlacement, "retired"}] = models.InventoryRow{
		TenantID:      "t1",
		InventoryType: models.InventoryPlacement,
		InventoryID:   "retired",
		Name:          "Retired Placement",
		Status:        models.InventoryActive,
		LastSynced:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	// An ad unit the listing dropped; ad units are archived, never staled.
	store.rows[invKey{models.InventoryAdUnit, "old_unit"}] = models.InventoryRow{
		TenantID:      "t1",
		InventoryType: models.InventoryAdUnit,
		InventoryID:   "old_unit",
		Name:          "Old Unit",
		Status:        models.InventoryActive,
		LastSynced:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	resp, aerr := engine.Sync(context.Background(), tenant, &Request{Mode: models.SyncModeFull})
	require.Nil(t, aerr)

	summary := decodeSummary(t, resp.Summary)
	assert.Equal(t, int64(1), summary[models.InventoryPlacement].Staled)
	assert.Equal(t, models.InventoryStale, store.rows[invKey{models.InventoryPlacement, "retired"}].Status)
	assert.Equal(t, models.InventoryActive, store.rows[invKey{models.InventoryAdUnit, "old_unit"}].Status)
}

// sinceRecorder captures the modified-since watermark handed to the adapter.
type sinceRecorder struct {
	adapters.Adapter
	since []time.Time
}

func (r *sinceRecorder) ListInventory(ctx context.Context, tenant *models.Tenant, inventoryType, pageToken string, since time.Time) (*adapters.InventoryPage, error) {
	r.since = append(r.since, since)
	return r.Adapter.ListInventory(ctx, tenant, inventoryType, pageToken, since)
}

func TestIncrementalSyncUsesLastSyncWatermark(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)
	recorder := &sinceRecorder{Adapter: adapters.NewMockAdapter()}
	engine.Adapters = map[string]adapters.Adapter{models.AdServerMock: recorder}

	// The first incremental run has no completed sync to anchor on.
	_, aerr := engine.Sync(context.Background(), tenant, &Request{Mode: models.SyncModeIncremental})
	require.Nil(t, aerr)
	require.NotEmpty(t, recorder.since)
	for _, since := range recorder.since {
		assert.True(t, since.IsZero())
	}

	recorder.since = nil
	_, aerr = engine.Sync(context.Background(), tenant, &Request{Mode: models.SyncModeIncremental})
	require.Nil(t, aerr)
	require.NotEmpty(t, recorder.since)
	for _, since := range recorder.since {
		assert.Equal(t, engine.Clock(), since)
	}

	// Full syncs always refetch everything.
	recorder.since = nil
	_, aerr = engine.Sync(context.Background(), tenant, &Request{Mode: models.SyncModeFull})
	require.Nil(t, aerr)
	for _, since := range recorder.since {
		assert.True(t, since.IsZero())
	}
}

func TestIncrementalSyncSkipsStaleMarking(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)

	store.rows[invKey{models.InventoryPlacement, "retired"}] = models.InventoryRow{
		TenantID:      "t1",
		InventoryType: models.InventoryPlacement,
		InventoryID:   "retired",
		Status:        models.InventoryActive,
		LastSynced:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	_, aerr := engine.Sync(context.Background(), tenant, &Request{Mode: models.SyncModeIncremental})
	require.Nil(t, aerr)
	assert.Equal(t, models.InventoryActive, store.rows[invKey{models.InventoryPlacement, "retired"}].Status)
}

func TestSelectiveSyncLimitsTypes(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)

	resp, aerr := engine.Sync(context.Background(), tenant, &Request{
		Mode:  models.SyncModeSelective,
		Types: []string{models.InventoryPlacement},
	})
	require.Nil(t, aerr)

	summary := decodeSummary(t, resp.Summary)
	assert.Len(t, summary, 1)
	assert.Equal(t, 1, summary[models.InventoryPlacement].Created)
	assert.Equal(t, 0, store.countByStatus(models.InventoryAdUnit, models.InventoryActive))
}

func TestSelectiveSyncValidation(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)

	_, aerr := engine.Sync(context.Background(), tenant, &Request{Mode: models.SyncModeSelective})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)

	_, aerr = engine.Sync(context.Background(), tenant, &Request{
		Mode:  models.SyncModeSelective,
		Types: []string{"line_item"},
	})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)

	_, aerr = engine.Sync(context.Background(), tenant, &Request{Mode: "everything"})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)
}

func TestSyncRejectsUnknownAdServer(t *testing.T) {
	store := newFakeStore()
	engine, _ := testEngine(store)

	_, aerr := engine.Sync(context.Background(), &models.Tenant{TenantID: "t2", AdServer: "doubleclick"}, &Request{})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeDataIntegrity, aerr.Code)
}

func TestStatusReportsCompletedJob(t *testing.T) {
	store := newFakeStore()
	engine, tenant := testEngine(store)

	created, aerr := engine.Sync(context.Background(), tenant, &Request{})
	require.Nil(t, aerr)

	resp, aerr := engine.Status(context.Background(), created.SyncID)
	require.Nil(t, aerr)
	assert.Equal(t, models.SyncCompleted, resp.Status)
	assert.NotEmpty(t, resp.Summary)

	_, aerr = engine.Status(context.Background(), "sync_missing")
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeNotFound, aerr.Code)
}
