package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adapters"
	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
)

// batchSize bounds one inventory write; it matches the adapter page size so a
// page flushes in one commit.
const batchSize = 500

// fullSyncTypes is the discovery sequence of a full sync. Custom targeting
// values are pulled lazily per key rather than listed here.
var fullSyncTypes = []string{
	models.InventoryAdUnit,
	models.InventoryPlacement,
	models.InventoryLabel,
	models.InventoryCustomTargetingKey,
	models.InventoryAudienceSegment,
}

// staleableTypes are the types a full sync marks stale when absent. Ad units
// are excluded: ad servers archive them rather than delete them, so absence
// from a listing is not evidence of removal.
var staleableTypes = []string{
	models.InventoryPlacement,
	models.InventoryLabel,
	models.InventoryCustomTargetingKey,
	models.InventoryCustomTargetingValue,
	models.InventoryAudienceSegment,
}

// Store is the persistence surface the sync engine uses. *db.Postgres
// implements it.
type Store interface {
	LoadInventoryIDMap(ctx context.Context, tenantID, inventoryType string) (map[string]bool, error)
	BulkUpsertInventory(ctx context.Context, rows []models.InventoryRow) error
	MarkInventoryStale(ctx context.Context, tenantID string, types []string, syncStart time.Time) (int64, error)
	CountInventory(ctx context.Context, tenantID, inventoryType string) (int, error)
	InsertSyncJob(ctx context.Context, job *models.SyncJob) error
	CompleteSyncJob(ctx context.Context, syncID, status string, summary json.RawMessage, errorDetail string) error
	GetSyncJob(ctx context.Context, syncID string) (*models.SyncJob, error)
	LastSyncStart(ctx context.Context, tenantID, adapterName string) (time.Time, error)
}

// Request selects what to sync.
type Request struct {
	// Mode is full, incremental, or selective. Defaults to full.
	Mode string `json:"mode,omitempty"`
	// Types narrows a selective sync to the named inventory types.
	Types []string `json:"types,omitempty"`
	// MaxValuesPerKey turns on eager targeting-value discovery, pulling at
	// most this many values under each key. Zero leaves values to lazy
	// per-key loading.
	MaxValuesPerKey int `json:"max_values_per_key,omitempty"`
}

// TypeSummary reports per-type outcomes of one sync run.
type TypeSummary struct {
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Staled  int64  `json:"staled,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Engine discovers ad server inventory and mirrors it into the store.
type Engine struct {
	Store    Store
	Adapters map[string]adapters.Adapter
	Metrics  observability.MetricsRegistry
	// CommitTimeout bounds a single batch write.
	CommitTimeout time.Duration
	// TypeTimeout bounds the discovery of one inventory type. A type that
	// times out is recorded in the summary; the sync moves on.
	TypeTimeout time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// Sync runs one inventory sync for the tenant and records it as a sync job.
// The response carries the job id and a per-type summary; per-type failures
// degrade the summary without failing the run.
func (e *Engine) Sync(ctx context.Context, tenant *models.Tenant, req *Request) (*adcp.SyncInventoryResponse, *adcp.Error) {
	adapter, err := adapters.ForTenant(e.Adapters, tenant)
	if err != nil {
		return nil, adcp.Errorf(adcp.CodeDataIntegrity, "tenant %s: %s", tenant.TenantID, err.Error())
	}
	if !adapter.Capabilities().SupportsInventorySync {
		return nil, adcp.Errorf(adcp.CodeValidation, "%s does not support inventory sync", adapter.Name())
	}

	mode := req.Mode
	if mode == "" {
		mode = models.SyncModeFull
	}
	types, aerr := typesForMode(mode, req.Types)
	if aerr != nil {
		return nil, aerr
	}

	// Incremental runs only fetch items modified after the previous
	// successful sync. The zero time on a first run degrades to a full fetch.
	var since time.Time
	if mode == models.SyncModeIncremental {
		since, err = e.Store.LastSyncStart(ctx, tenant.TenantID, adapter.Name())
		if err != nil {
			return nil, adcp.WrapError(adcp.CodeUnavailable, "resolve last sync", err)
		}
	}

	syncStart := e.now()
	job := &models.SyncJob{
		SyncID:      "sync_" + uuid.NewString(),
		TenantID:    tenant.TenantID,
		AdapterName: adapter.Name(),
		Mode:        mode,
		Status:      models.SyncRunning,
		StartedAt:   syncStart,
	}
	if err := e.Store.InsertSyncJob(ctx, job); err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "record sync job", err)
	}

	summaries := make(map[string]*TypeSummary, len(types))
	failures := 0
	for _, inventoryType := range types {
		summary := e.syncType(ctx, adapter, tenant, inventoryType, syncStart, since, req.MaxValuesPerKey)
		summaries[inventoryType] = summary
		if summary.Error != "" {
			failures++
		}
	}

	if mode == models.SyncModeFull {
		e.markStale(ctx, tenant.TenantID, types, syncStart, req.MaxValuesPerKey > 0, summaries)
	}

	status := models.SyncCompleted
	errorDetail := ""
	if failures == len(types) && len(types) > 0 {
		status = models.SyncFailed
		errorDetail = "all inventory types failed"
	}
	summaryJSON, _ := json.Marshal(summaries)
	if err := e.Store.CompleteSyncJob(ctx, job.SyncID, status, summaryJSON, errorDetail); err != nil {
		zap.L().Error("complete sync job", zap.String("sync_id", job.SyncID), zap.Error(err))
	}

	zap.L().Info("inventory sync finished",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("sync_id", job.SyncID),
		zap.String("mode", mode),
		zap.String("status", status),
		zap.Int("failed_types", failures))

	resp := &adcp.SyncInventoryResponse{SyncID: job.SyncID, Status: status, Summary: summaryJSON}
	for t, s := range summaries {
		if s.Error != "" {
			resp.Errors = append(resp.Errors, *adcp.Errorf(adcp.CodeAdapter, "sync %s: %s", t, s.Error))
		}
	}
	return resp, nil
}

func typesForMode(mode string, selected []string) ([]string, *adcp.Error) {
	switch mode {
	case models.SyncModeFull, models.SyncModeIncremental:
		return fullSyncTypes, nil
	case models.SyncModeSelective:
		if len(selected) == 0 {
			return nil, adcp.Errorf(adcp.CodeValidation, "selective sync requires types")
		}
		known := map[string]bool{}
		for _, t := range fullSyncTypes {
			known[t] = true
		}
		for _, t := range selected {
			if !known[t] {
				return nil, adcp.Errorf(adcp.CodeValidation, "unknown inventory type %q", t)
			}
		}
		return selected, nil
	default:
		return nil, adcp.Errorf(adcp.CodeValidation, "mode must be full, incremental, or selective")
	}
}

// syncType discovers one inventory type page by page, flushing batches as
// they fill. In eager mode, custom targeting keys additionally pull up to
// maxValues values per key.
func (e *Engine) syncType(ctx context.Context, adapter adapters.Adapter, tenant *models.Tenant, inventoryType string, syncStart, since time.Time, maxValues int) *TypeSummary {
	summary := &TypeSummary{}
	typeCtx := ctx
	if e.TypeTimeout > 0 {
		var cancel context.CancelFunc
		typeCtx, cancel = context.WithTimeout(ctx, e.TypeTimeout)
		defer cancel()
	}

	existing, err := e.Store.LoadInventoryIDMap(typeCtx, tenant.TenantID, inventoryType)
	if err != nil {
		summary.Error = err.Error()
		return summary
	}

	list := func(pageCtx context.Context, pageToken string) (*adapters.InventoryPage, error) {
		return adapter.ListInventory(pageCtx, tenant, inventoryType, pageToken, since)
	}
	keys, err := e.pageLoop(typeCtx, tenant, inventoryType, existing, syncStart, 0, summary, list)
	if err != nil {
		summary.Error = err.Error()
		return summary
	}

	if inventoryType == models.InventoryCustomTargetingKey && maxValues > 0 {
		e.syncTargetingValues(typeCtx, adapter, tenant, keys, syncStart, maxValues, summary)
	}
	return summary
}

// pageLoop drives one paged listing, buffering rows and flushing at
// batchSize. It returns the ids seen, which key syncs use to pull values.
// A positive limit stops the listing once that many rows are taken.
func (e *Engine) pageLoop(ctx context.Context, tenant *models.Tenant, inventoryType string,
	existing map[string]bool, syncStart time.Time, limit int, summary *TypeSummary,
	list func(ctx context.Context, pageToken string) (*adapters.InventoryPage, error)) ([]string, error) {

	var (
		buffer []models.InventoryRow
		seen   []string
		token  string
	)
	for {
		page, err := list(ctx, token)
		if err != nil {
			return seen, fmt.Errorf("list %s: %w", inventoryType, err)
		}
		for _, row := range page.Rows {
			if limit > 0 && len(seen) >= limit {
				return seen, e.flush(ctx, buffer)
			}
			row.LastSynced = syncStart
			if row.Status == "" {
				row.Status = models.InventoryActive
			}
			buffer = append(buffer, row)
			seen = append(seen, row.InventoryID)
			if existing[row.InventoryID] {
				summary.Updated++
				e.countRow(row.InventoryType, "updated")
			} else {
				summary.Created++
				e.countRow(row.InventoryType, "created")
			}
			if len(buffer) >= batchSize {
				if err := e.flush(ctx, buffer); err != nil {
					return seen, err
				}
				buffer = buffer[:0]
			}
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if err := e.flush(ctx, buffer); err != nil {
		return seen, err
	}
	return seen, nil
}

// flush commits one batch under the commit timeout.
func (e *Engine) flush(ctx context.Context, rows []models.InventoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	commitCtx := ctx
	if e.CommitTimeout > 0 {
		var cancel context.CancelFunc
		commitCtx, cancel = context.WithTimeout(ctx, e.CommitTimeout)
		defer cancel()
	}
	if err := e.Store.BulkUpsertInventory(commitCtx, rows); err != nil {
		return fmt.Errorf("write inventory batch: %w", err)
	}
	return nil
}

// syncTargetingValues eagerly pulls up to maxValues values under each
// discovered targeting key. A failing key degrades the summary but the
// remaining keys still sync.
func (e *Engine) syncTargetingValues(ctx context.Context, adapter adapters.Adapter, tenant *models.Tenant, keyIDs []string, syncStart time.Time, maxValues int, summary *TypeSummary) {
	existing, err := e.Store.LoadInventoryIDMap(ctx, tenant.TenantID, models.InventoryCustomTargetingValue)
	if err != nil {
		summary.Error = err.Error()
		return
	}
	for _, keyID := range keyIDs {
		kid := keyID
		list := func(pageCtx context.Context, pageToken string) (*adapters.InventoryPage, error) {
			return adapter.ListCustomTargetingValues(pageCtx, tenant, kid, pageToken)
		}
		if _, err := e.pageLoop(ctx, tenant, models.InventoryCustomTargetingValue, existing, syncStart, maxValues, summary, list); err != nil {
			zap.L().Warn("targeting value sync failed",
				zap.String("tenant_id", tenant.TenantID),
				zap.String("key_id", keyID),
				zap.Error(err))
			summary.Error = err.Error()
		}
	}
}

// markStale flags rows a full sync no longer sees, per staleable type.
func (e *Engine) markStale(ctx context.Context, tenantID string, synced []string, syncStart time.Time, valuesSynced bool, summaries map[string]*TypeSummary) {
	syncedSet := map[string]bool{}
	for _, t := range synced {
		syncedSet[t] = true
	}
	// In eager mode values are pulled alongside keys, so they stale together.
	// Keys-only runs never touch value rows, so absence proves nothing.
	if syncedSet[models.InventoryCustomTargetingKey] && valuesSynced {
		syncedSet[models.InventoryCustomTargetingValue] = true
	}
	for _, t := range staleableTypes {
		if !syncedSet[t] {
			continue
		}
		summaryKey := t
		if t == models.InventoryCustomTargetingValue {
			summaryKey = models.InventoryCustomTargetingKey
		}
		summary := summaries[summaryKey]
		if summary == nil || summary.Error != "" {
			// Never stale a type whose listing failed; absence means the
			// listing broke, not that the items are gone.
			continue
		}
		n, err := e.Store.MarkInventoryStale(ctx, tenantID, []string{t}, syncStart)
		if err != nil {
			zap.L().Error("mark inventory stale",
				zap.String("tenant_id", tenantID),
				zap.String("inventory_type", t),
				zap.Error(err))
			continue
		}
		summary.Staled += n
	}
}

func (e *Engine) countRow(inventoryType, action string) {
	if e.Metrics != nil {
		e.Metrics.IncrementSyncRows(inventoryType, action)
	}
}

// Status retrieves one sync run by id.
func (e *Engine) Status(ctx context.Context, syncID string) (*adcp.SyncInventoryResponse, *adcp.Error) {
	job, err := e.Store.GetSyncJob(ctx, syncID)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "sync job lookup failed", err)
	}
	if job == nil {
		return nil, adcp.Errorf(adcp.CodeNotFound, "sync %s not found", syncID)
	}
	resp := &adcp.SyncInventoryResponse{SyncID: job.SyncID, Status: job.Status, Summary: job.Summary}
	if job.ErrorDetail != "" {
		resp.Errors = append(resp.Errors, *adcp.Errorf(adcp.CodeAdapter, "%s", job.ErrorDetail))
	}
	return resp, nil
}
