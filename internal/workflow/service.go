package workflow

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
)

const defaultTaskPageSize = 20

// Task resolutions accepted by complete_task.
const (
	ResolutionApproved  = "approved"
	ResolutionRejected  = "rejected"
	ResolutionCompleted = "completed"
	ResolutionFailed    = "failed"
)

// Store is the persistence surface the task service uses. *db.Postgres
// implements it.
type Store interface {
	ListWorkflowSteps(ctx context.Context, q db.StepQuery) ([]models.WorkflowStep, int, error)
	GetWorkflowStep(ctx context.Context, tenantID, stepID string) (*models.WorkflowStep, error)
	CompleteWorkflowStep(ctx context.Context, tenantID, stepID, targetStatus, completedBy, comment string, responseData json.RawMessage) (bool, error)
	StepsForObject(ctx context.Context, tenantID, objectType, objectID string) ([]models.WorkflowStep, error)

	GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error)
	UpdateMediaBuyStatus(ctx context.Context, tenantID, mediaBuyID, status string) error
	UpdateCreativeStatus(ctx context.Context, tenantID, creativeID, status string) error

	InsertAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Service exposes the human task queue: listing open steps, inspecting one,
// and resolving it with its downstream side effects.
type Service struct {
	Store   Store
	Metrics observability.MetricsRegistry

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// Task is the wire shape of one workflow step.
type Task struct {
	TaskID       string          `json:"task_id"`
	TaskType     string          `json:"task_type"`
	Status       string          `json:"status"`
	ObjectType   string          `json:"object_type,omitempty"`
	ObjectID     string          `json:"object_id,omitempty"`
	PrincipalID  string          `json:"principal_id,omitempty"`
	RequestData  json.RawMessage `json:"request_data,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Comment      string          `json:"comment,omitempty"`
	CreatedAt    adcp.AwareTime  `json:"created_at"`
	CompletedAt  *adcp.AwareTime `json:"completed_at,omitempty"`
	CompletedBy  string          `json:"completed_by,omitempty"`
}

func taskFromStep(step models.WorkflowStep) Task {
	t := Task{
		TaskID:       step.StepID,
		TaskType:     step.StepType,
		Status:       step.Status,
		ObjectType:   step.ObjectType,
		ObjectID:     step.ObjectID,
		PrincipalID:  step.PrincipalID,
		RequestData:  step.RequestData,
		ResponseData: step.ResponseData,
		ErrorMessage: step.ErrorMessage,
		Comment:      step.Comment,
		CreatedAt:    adcp.AwareTime{Time: step.CreatedAt},
		CompletedBy:  step.CompletedBy,
	}
	if step.CompletedAt != nil {
		t.CompletedAt = &adcp.AwareTime{Time: *step.CompletedAt}
	}
	return t
}

// ListTasksRequest filters the task queue.
type ListTasksRequest struct {
	Statuses   []string         `json:"statuses,omitempty"`
	TaskTypes  []string         `json:"task_types,omitempty"`
	ObjectID   string           `json:"object_id,omitempty"`
	Pagination *adcp.Pagination `json:"pagination,omitempty"`
}

// ListTasksResponse is a page of tasks.
type ListTasksResponse struct {
	Tasks        []Task            `json:"tasks"`
	QuerySummary adcp.QuerySummary `json:"query_summary"`
	Pagination   adcp.PageInfo     `json:"pagination"`
}

// ListTasks pages through the tenant's workflow steps, newest first.
func (s *Service) ListTasks(ctx context.Context, rc *auth.RequestContext, req *ListTasksRequest) (*ListTasksResponse, *adcp.Error) {
	q := db.StepQuery{
		TenantID:  rc.Tenant.TenantID,
		Statuses:  req.Statuses,
		StepTypes: req.TaskTypes,
		ObjectID:  req.ObjectID,
		Limit:     defaultTaskPageSize,
	}
	if req.Pagination != nil {
		if req.Pagination.Limit > 0 {
			q.Limit = req.Pagination.Limit
		}
		if req.Pagination.Offset > 0 {
			q.Offset = req.Pagination.Offset
		}
	}
	steps, total, err := s.Store.ListWorkflowSteps(ctx, q)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "list tasks", err)
	}
	resp := &ListTasksResponse{
		Tasks:        make([]Task, 0, len(steps)),
		QuerySummary: adcp.QuerySummary{TotalMatching: total},
		Pagination: adcp.PageInfo{
			Limit:       q.Limit,
			Offset:      q.Offset,
			CurrentPage: q.Offset/q.Limit + 1,
			HasMore:     q.Offset+len(steps) < total,
		},
	}
	for _, step := range steps {
		resp.Tasks = append(resp.Tasks, taskFromStep(step))
	}
	return resp, nil
}

// GetTask retrieves one task.
func (s *Service) GetTask(ctx context.Context, rc *auth.RequestContext, taskID string) (*Task, *adcp.Error) {
	step, err := s.Store.GetWorkflowStep(ctx, rc.Tenant.TenantID, taskID)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "task lookup failed", err)
	}
	if step == nil {
		return nil, adcp.Errorf(adcp.CodeNotFound, "task %s not found", taskID)
	}
	t := taskFromStep(*step)
	return &t, nil
}

// CompleteTaskRequest resolves one open task.
type CompleteTaskRequest struct {
	TaskID       string          `json:"task_id"`
	Resolution   string          `json:"resolution"`
	CompletedBy  string          `json:"completed_by,omitempty"`
	Comment      string          `json:"comment,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
}

// CompleteTask resolves an open task and applies its side effects: approving
// a media buy moves it out of pending_activation, resolving a creative
// review stamps the creative's status. The status guard runs inside the
// store, so a concurrent double-complete loses cleanly.
func (s *Service) CompleteTask(ctx context.Context, rc *auth.RequestContext, req *CompleteTaskRequest) (*Task, *adcp.Error) {
	if req.TaskID == "" {
		return nil, adcp.Errorf(adcp.CodeValidation, "task_id is required")
	}
	target, approved, aerr := resolveTarget(req.Resolution)
	if aerr != nil {
		return nil, aerr
	}

	tenantID := rc.Tenant.TenantID
	step, err := s.Store.GetWorkflowStep(ctx, tenantID, req.TaskID)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "task lookup failed", err)
	}
	if step == nil {
		return nil, adcp.Errorf(adcp.CodeNotFound, "task %s not found", req.TaskID)
	}
	if !models.StepResolvable(step.Status) {
		return nil, adcp.Errorf(adcp.CodeValidation, "task %s is already %s", req.TaskID, step.Status)
	}

	done, err := s.Store.CompleteWorkflowStep(ctx, tenantID, req.TaskID, target,
		req.CompletedBy, req.Comment, req.ResponseData)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "complete task", err)
	}
	if !done {
		return nil, adcp.Errorf(adcp.CodeValidation, "task %s was resolved concurrently", req.TaskID)
	}

	if aerr := s.applySideEffects(ctx, step, approved); aerr != nil {
		return nil, aerr
	}

	if err := s.Store.InsertAuditLog(ctx, &models.AuditLog{
		TenantID:    tenantID,
		Operation:   "complete_task",
		PrincipalID: rc.PrincipalID(),
		ObjectType:  step.ObjectType,
		ObjectID:    step.ObjectID,
		Success:     true,
	}); err != nil {
		zap.L().Error("write audit log", zap.String("task_id", req.TaskID), zap.Error(err))
	}

	return s.GetTask(ctx, rc, req.TaskID)
}

func resolveTarget(resolution string) (targetStatus string, approved bool, aerr *adcp.Error) {
	switch resolution {
	case ResolutionApproved, ResolutionCompleted:
		return models.StepCompleted, true, nil
	case ResolutionRejected, ResolutionFailed:
		return models.StepFailed, false, nil
	default:
		return "", false, adcp.Errorf(adcp.CodeValidation,
			"resolution must be one of approved, rejected, completed, failed")
	}
}

func (s *Service) applySideEffects(ctx context.Context, step *models.WorkflowStep, approved bool) *adcp.Error {
	switch step.StepType {
	case models.StepTypeMediaBuyApproval:
		return s.resolveMediaBuyApproval(ctx, step, approved)
	case models.StepTypeCreativeReview:
		status := adcp.CreativeStatusRejected
		if approved {
			status = adcp.CreativeStatusApproved
		}
		if err := s.Store.UpdateCreativeStatus(ctx, step.TenantID, step.ObjectID, status); err != nil {
			return adcp.WrapError(adcp.CodeUnavailable, "update creative status", err)
		}
	}
	return nil
}

func (s *Service) resolveMediaBuyApproval(ctx context.Context, step *models.WorkflowStep, approved bool) *adcp.Error {
	buy, err := s.Store.GetMediaBuy(ctx, step.TenantID, step.ObjectID)
	if err != nil {
		return adcp.WrapError(adcp.CodeUnavailable, "media buy lookup failed", err)
	}
	if buy == nil {
		zap.L().Warn("approval step references missing media buy",
			zap.String("step_id", step.StepID), zap.String("media_buy_id", step.ObjectID))
		return nil
	}

	next := adcp.StatusFailed
	if approved {
		next = adcp.StatusScheduled
		if buy.StartTime.Before(s.now()) {
			next = adcp.StatusActive
		}
	}
	if !models.CanTransition(buy.Status, next) {
		// Already moved on, e.g. the scheduler completed or failed it.
		return nil
	}
	if err := s.Store.UpdateMediaBuyStatus(ctx, step.TenantID, buy.MediaBuyID, next); err != nil {
		return adcp.WrapError(adcp.CodeUnavailable, "update media buy status", err)
	}
	if s.Metrics != nil {
		s.Metrics.IncrementStatusTransitions(next)
	}
	zap.L().Info("media buy approval resolved",
		zap.String("media_buy_id", buy.MediaBuyID),
		zap.String("status", next))
	return nil
}
