package models

import (
	"encoding/json"
	"time"
)

// Inventory item types discovered from an ad server.
const (
	InventoryAdUnit               = "ad_unit"
	InventoryPlacement            = "placement"
	InventoryLabel                = "label"
	InventoryCustomTargetingKey   = "custom_targeting_key"
	InventoryCustomTargetingValue = "custom_targeting_value"
	InventoryAudienceSegment      = "audience_segment"
)

// Inventory item statuses. STALE marks items absent from the latest full
// sync; ad units are never auto-staled because GAM archives rather than
// deletes them.
const (
	InventoryActive   = "ACTIVE"
	InventoryInactive = "INACTIVE"
	InventoryStale    = "STALE"
)

// InventoryRow is one discovered inventory item, scoped by
// (tenant_id, inventory_type, inventory_id).
type InventoryRow struct {
	TenantID      string          `json:"tenant_id"`
	InventoryType string          `json:"inventory_type"`
	InventoryID   string          `json:"inventory_id"`
	Name          string          `json:"name"`
	Path          []string        `json:"path,omitempty"`
	Status        string          `json:"status"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	LastSynced    time.Time       `json:"last_synced"`
}

// Sync job modes and statuses.
const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"
	SyncModeSelective   = "selective"

	SyncRunning   = "running"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

// SyncJob records one inventory sync run.
type SyncJob struct {
	SyncID      string          `json:"sync_id"`
	TenantID    string          `json:"tenant_id"`
	AdapterName string          `json:"adapter_name"`
	Mode        string          `json:"mode"`
	Status      string          `json:"status"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
