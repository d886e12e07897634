package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openadcp/salesagent/internal/models"
)

// LoadInventoryIDMap returns the set of known inventory ids for one type.
// Sync runs diff against this map to decide created vs updated counts.
func (p *Postgres) LoadInventoryIDMap(ctx context.Context, tenantID, inventoryType string) (map[string]bool, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT inventory_id FROM inventory WHERE tenant_id=$1 AND inventory_type=$2`,
		tenantID, inventoryType)
	if err != nil {
		return nil, fmt.Errorf("query inventory ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inventory id: %w", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

// BulkUpsertInventory writes one batch of discovered inventory rows in a
// single transaction. Callers bound batch size; the commit runs under the
// supplied context's deadline.
func (p *Postgres) BulkUpsertInventory(ctx context.Context, rows []models.InventoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin inventory batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO inventory (
        tenant_id, inventory_type, inventory_id, name, path, status, metadata, last_synced)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (tenant_id, inventory_type, inventory_id) DO UPDATE SET
        name=EXCLUDED.name, path=EXCLUDED.path, status=EXCLUDED.status,
        metadata=EXCLUDED.metadata, last_synced=EXCLUDED.last_synced`)
	if err != nil {
		return fmt.Errorf("prepare inventory upsert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.TenantID, r.InventoryType, r.InventoryID,
			r.Name, pq.Array(r.Path), r.Status, nullableJSON(r.Metadata), r.LastSynced); err != nil {
			return fmt.Errorf("upsert inventory %s/%s: %w", r.InventoryType, r.InventoryID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit inventory batch: %w", err)
	}
	return nil
}

// MarkInventoryStale marks rows of the given types not touched since the sync
// started. The one-second slack absorbs clock skew between the sync start
// stamp and row write times. Ad units are excluded by the caller: GAM
// archives rather than deletes them.
func (p *Postgres) MarkInventoryStale(ctx context.Context, tenantID string, types []string, syncStart time.Time) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	res, err := p.DB.ExecContext(ctx,
		`UPDATE inventory SET status=$1
         WHERE tenant_id=$2 AND inventory_type = ANY($3)
         AND last_synced < $4 AND status <> $1`,
		models.InventoryStale, tenantID, pq.Array(types), syncStart.Add(-time.Second))
	if err != nil {
		return 0, fmt.Errorf("mark inventory stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CountInventory returns the row count for one inventory type.
func (p *Postgres) CountInventory(ctx context.Context, tenantID, inventoryType string) (int, error) {
	var n int
	err := p.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory WHERE tenant_id=$1 AND inventory_type=$2`,
		tenantID, inventoryType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count inventory: %w", err)
	}
	return n, nil
}

// InsertSyncJob records the start of an inventory sync run.
func (p *Postgres) InsertSyncJob(ctx context.Context, job *models.SyncJob) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO sync_jobs (
        sync_id, tenant_id, adapter_name, mode, status, started_at)
        VALUES ($1,$2,$3,$4,$5,$6)`,
		job.SyncID, job.TenantID, job.AdapterName, job.Mode, job.Status, job.StartedAt)
	if err != nil {
		return fmt.Errorf("insert sync job %s: %w", job.SyncID, err)
	}
	return nil
}

// CompleteSyncJob stamps a sync run with its terminal status and summary.
func (p *Postgres) CompleteSyncJob(ctx context.Context, syncID, status string, summary json.RawMessage, errorDetail string) error {
	_, err := p.DB.ExecContext(ctx,
		`UPDATE sync_jobs SET status=$1, summary=$2, error_detail=NULLIF($3,''), completed_at=NOW()
         WHERE sync_id=$4`,
		status, nullableJSON(summary), errorDetail, syncID)
	if err != nil {
		return fmt.Errorf("complete sync job %s: %w", syncID, err)
	}
	return nil
}

// LastSyncStart returns the start time of the tenant's most recent completed
// sync against the named adapter, or the zero time when none has finished.
// Incremental syncs use it as their modified-since watermark.
func (p *Postgres) LastSyncStart(ctx context.Context, tenantID, adapterName string) (time.Time, error) {
	var started sql.NullTime
	err := p.DB.QueryRowContext(ctx,
		`SELECT MAX(started_at) FROM sync_jobs
         WHERE tenant_id=$1 AND adapter_name=$2 AND status=$3`,
		tenantID, adapterName, models.SyncCompleted).Scan(&started)
	if err != nil {
		return time.Time{}, fmt.Errorf("query last sync start: %w", err)
	}
	if !started.Valid {
		return time.Time{}, nil
	}
	return started.Time, nil
}

// GetSyncJob retrieves one sync run. Returns (nil, nil) when absent.
func (p *Postgres) GetSyncJob(ctx context.Context, syncID string) (*models.SyncJob, error) {
	var job models.SyncJob
	var summary, errDetail sql.NullString
	var completedAt sql.NullTime
	err := p.DB.QueryRowContext(ctx,
		`SELECT sync_id, tenant_id, adapter_name, mode, status, summary, error_detail, started_at, completed_at
         FROM sync_jobs WHERE sync_id=$1`, syncID).
		Scan(&job.SyncID, &job.TenantID, &job.AdapterName, &job.Mode, &job.Status,
			&summary, &errDetail, &job.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sync job %s: %w", syncID, err)
	}
	if summary.Valid {
		job.Summary = json.RawMessage(summary.String)
	}
	job.ErrorDetail = errDetail.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
