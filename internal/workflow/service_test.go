package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
)

type fakeStore struct {
	steps    map[string]*models.WorkflowStep
	buys     map[string]*models.MediaBuy
	creative map[string]string // creative id -> status
	audits   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		steps:    map[string]*models.WorkflowStep{},
		buys:     map[string]*models.MediaBuy{},
		creative: map[string]string{},
	}
}

func (f *fakeStore) ListWorkflowSteps(_ context.Context, q db.StepQuery) ([]models.WorkflowStep, int, error) {
	var all []models.WorkflowStep
	for _, s := range f.steps {
		if len(q.Statuses) > 0 && !containsStr(q.Statuses, s.Status) {
			continue
		}
		if len(q.StepTypes) > 0 && !containsStr(q.StepTypes, s.StepType) {
			continue
		}
		if q.ObjectID != "" && s.ObjectID != q.ObjectID {
			continue
		}
		all = append(all, *s)
	}
	total := len(all)
	if q.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[q.Offset:]
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, total, nil
}

func (f *fakeStore) GetWorkflowStep(_ context.Context, _, stepID string) (*models.WorkflowStep, error) {
	return f.steps[stepID], nil
}

func (f *fakeStore) CompleteWorkflowStep(_ context.Context, _, stepID, targetStatus, completedBy, comment string, responseData json.RawMessage) (bool, error) {
	step, ok := f.steps[stepID]
	if !ok || !models.StepResolvable(step.Status) {
		return false, nil
	}
	now := time.Now().UTC()
	step.Status = targetStatus
	step.CompletedAt = &now
	step.CompletedBy = completedBy
	step.Comment = comment
	if responseData != nil {
		step.ResponseData = responseData
	}
	return true, nil
}

func (f *fakeStore) StepsForObject(_ context.Context, _, _, objectID string) ([]models.WorkflowStep, error) {
	var out []models.WorkflowStep
	for _, s := range f.steps {
		if s.ObjectID == objectID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMediaBuy(_ context.Context, _, mediaBuyID string) (*models.MediaBuy, error) {
	return f.buys[mediaBuyID], nil
}

func (f *fakeStore) UpdateMediaBuyStatus(_ context.Context, _, mediaBuyID, status string) error {
	buy, ok := f.buys[mediaBuyID]
	if !ok {
		return fmt.Errorf("media buy %s not found", mediaBuyID)
	}
	buy.Status = status
	return nil
}

func (f *fakeStore) UpdateCreativeStatus(_ context.Context, _, creativeID, status string) error {
	f.creative[creativeID] = status
	return nil
}

func (f *fakeStore) InsertAuditLog(_ context.Context, _ *models.AuditLog) error {
	f.audits++
	return nil
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func testService(store *fakeStore) (*Service, *auth.RequestContext) {
	svc := &Service{
		Store:   store,
		Metrics: observability.NewNoOpRegistry(),
		Clock:   func() time.Time { return time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC) },
	}
	rc := &auth.RequestContext{
		Tenant:    &models.Tenant{TenantID: "t1", AdServer: models.AdServerMock},
		Principal: &models.Principal{PrincipalID: "principal_1", TenantID: "t1"},
	}
	return svc, rc
}

func seedApprovalStep(store *fakeStore, stepID, mediaBuyID string, startTime time.Time) {
	store.steps[stepID] = &models.WorkflowStep{
		StepID:     stepID,
		TenantID:   "t1",
		StepType:   models.StepTypeMediaBuyApproval,
		Status:     models.StepRequiresApproval,
		ObjectType: "media_buy",
		ObjectID:   mediaBuyID,
		CreatedAt:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	store.buys[mediaBuyID] = &models.MediaBuy{
		MediaBuyID: mediaBuyID,
		TenantID:   "t1",
		Status:     adcp.StatusPendingActivation,
		StartTime:  startTime,
		EndTime:    startTime.Add(30 * 24 * time.Hour),
	}
}

func TestCompleteTaskApprovesFutureBuy(t *testing.T) {
	store := newFakeStore()
	svc, rc := testService(store)
	seedApprovalStep(store, "step_1", "mb_1", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	task, aerr := svc.CompleteTask(context.Background(), rc, &CompleteTaskRequest{
		TaskID:      "step_1",
		Resolution:  ResolutionApproved,
		CompletedBy: "ops@example.com",
	})
	require.Nil(t, aerr)
	assert.Equal(t, models.StepCompleted, task.Status)
	assert.Equal(t, "ops@example.com", task.CompletedBy)
	assert.Equal(t, adcp.StatusScheduled, store.buys["mb_1"].Status)
	assert.Equal(t, 1, store.audits)
}

func TestCompleteTaskApprovesRunningBuy(t *testing.T) {
	store := newFakeStore()
	svc, rc := testService(store)
	// Flight already started relative to the service clock.
	seedApprovalStep(store, "step_1", "mb_1", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))

	_, aerr := svc.CompleteTask(context.Background(), rc, &CompleteTaskRequest{
		TaskID:     "step_1",
		Resolution: ResolutionApproved,
	})
	require.Nil(t, aerr)
	assert.Equal(t, adcp.StatusActive, store.buys["mb_1"].Status)
}

func TestCompleteTaskRejectionFailsBuy(t *testing.T) {
	store := newFakeStore()
	svc, rc := testService(store)
	seedApprovalStep(store, "step_1", "mb_1", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	task, aerr := svc.CompleteTask(context.Background(), rc, &CompleteTaskRequest{
		TaskID:     "step_1",
		Resolution: ResolutionRejected,
		Comment:    "budget not cleared",
	})
	require.Nil(t, aerr)
	assert.Equal(t, models.StepFailed, task.Status)
	assert.Equal(t, "budget not cleared", task.Comment)
	assert.Equal(t, adcp.StatusFailed, store.buys["mb_1"].Status)
}

func TestCompleteTaskCreativeReview(t *testing.T) {
	store := newFakeStore()
	svc, rc := testService(store)
	store.steps["step_cr"] = &models.WorkflowStep{
		StepID:     "step_cr",
		TenantID:   "t1",
		StepType:   models.StepTypeCreativeReview,
		Status:     models.StepRequiresApproval,
		ObjectType: "creative",
		ObjectID:   "cr_1",
		CreatedAt:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	_, aerr := svc.CompleteTask(context.Background(), rc, &CompleteTaskRequest{
		TaskID:     "step_cr",
		Resolution: ResolutionApproved,
	})
	require.Nil(t, aerr)
	assert.Equal(t, adcp.CreativeStatusApproved, store.creative["cr_1"])
}

func TestCompleteTaskTerminalStepRejected(t *testing.T) {
	store := newFakeStore()
	svc, rc := testService(store)
	seedApprovalStep(store, "step_1", "mb_1", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	store.steps["step_1"].Status = models.StepCompleted

	_, aerr := svc.CompleteTask(context.Background(), rc, &CompleteTaskRequest{
		TaskID:     "step_1",
		Resolution: ResolutionApproved,
	})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)
}

func TestCompleteTaskUnknownResolution(t *testing.T) {
	store := newFakeStore()
	svc, rc := testService(store)
	_, aerr := svc.CompleteTask(context.Background(), rc, &CompleteTaskRequest{
		TaskID:     "step_1",
		Resolution: "maybe",
	})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	store := newFakeStore()
	svc, rc := testService(store)
	_, aerr := svc.GetTask(context.Background(), rc, "missing")
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeNotFound, aerr.Code)
}

func TestListTasksFiltersAndPages(t *testing.T) {
	store := newFakeStore()
	svc, rc := testService(store)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("step_%d", i)
		seedApprovalStep(store, id, fmt.Sprintf("mb_%d", i), time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	}
	store.steps["step_0"].Status = models.StepCompleted

	resp, aerr := svc.ListTasks(context.Background(), rc, &ListTasksRequest{
		Statuses:   []string{models.StepRequiresApproval},
		Pagination: &adcp.Pagination{Limit: 2},
	})
	require.Nil(t, aerr)
	assert.Equal(t, 3, resp.QuerySummary.TotalMatching)
	assert.Len(t, resp.Tasks, 2)
	assert.True(t, resp.Pagination.HasMore)
	for _, task := range resp.Tasks {
		assert.Equal(t, models.StepTypeMediaBuyApproval, task.TaskType)
	}

	// Without explicit pagination the default page size applies.
	resp, aerr = svc.ListTasks(context.Background(), rc, &ListTasksRequest{})
	require.Nil(t, aerr)
	assert.Equal(t, defaultTaskPageSize, resp.Pagination.Limit)
}
