package models

import (
	"encoding/json"
	"time"
)

// Workflow step statuses.
const (
	StepPending          = "pending"
	StepInProgress       = "in_progress"
	StepRequiresApproval = "requires_approval"
	StepCompleted        = "completed"
	StepFailed           = "failed"
)

// Workflow step types surfaced through the task tools.
const (
	StepTypeMediaBuyApproval = "media_buy_approval"
	StepTypeCreativeReview   = "creative_review"
	StepTypeAdapterAction    = "adapter_action"
)

// openStepStatuses are the states a step can be resolved from. Terminal
// steps are immutable.
var openStepStatuses = map[string]bool{
	StepPending:          true,
	StepInProgress:       true,
	StepRequiresApproval: true,
}

// StepResolvable reports whether a step in the given status may still be
// completed or failed.
func StepResolvable(status string) bool {
	return openStepStatuses[status]
}

// WorkflowStep is a unit of pending work: a human approval, a creative
// review, or a deferred adapter action.
type WorkflowStep struct {
	StepID        string          `json:"step_id"`
	TenantID      string          `json:"tenant_id"`
	StepType      string          `json:"step_type"`
	Status        string          `json:"status"`
	OwnerID       string          `json:"owner_id,omitempty"`
	PrincipalID   string          `json:"principal_id,omitempty"`
	RequestData   json.RawMessage `json:"request_data,omitempty"`
	ResponseData  json.RawMessage `json:"response_data,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Comment       string          `json:"comment,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CompletedBy   string          `json:"completed_by,omitempty"`
	ObjectType    string          `json:"object_type,omitempty"`
	ObjectID      string          `json:"object_id,omitempty"`
}

// ObjectWorkflowMapping links a business object (media buy, creative) to the
// steps that act on it.
type ObjectWorkflowMapping struct {
	MappingID  string    `json:"mapping_id"`
	TenantID   string    `json:"tenant_id"`
	ObjectType string    `json:"object_type"`
	ObjectID   string    `json:"object_id"`
	StepID     string    `json:"step_id"`
	Action     string    `json:"action"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditLog records state-changing operations for a tenant.
type AuditLog struct {
	LogID       string          `json:"log_id"`
	TenantID    string          `json:"tenant_id"`
	Operation   string          `json:"operation"`
	PrincipalID string          `json:"principal_id,omitempty"`
	ObjectType  string          `json:"object_type,omitempty"`
	ObjectID    string          `json:"object_id,omitempty"`
	Success     bool            `json:"success"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
