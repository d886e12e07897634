package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openadcp/salesagent/internal/models"
)

// InsertWorkflowStep persists a step and its object mapping in one
// transaction. A step with no ObjectID gets no mapping row.
func (p *Postgres) InsertWorkflowStep(ctx context.Context, step *models.WorkflowStep, action string) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin workflow step: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_steps (
        step_id, tenant_id, step_type, status, owner_id, principal_id,
        request_data, object_type, object_id)
        VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,NULLIF($8,''),NULLIF($9,''))`,
		step.StepID, step.TenantID, step.StepType, step.Status, step.OwnerID,
		step.PrincipalID, nullableJSON(step.RequestData), step.ObjectType,
		step.ObjectID); err != nil {
		return fmt.Errorf("insert workflow step %s: %w", step.StepID, err)
	}

	if step.ObjectID != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO object_workflow_mappings (
            mapping_id, tenant_id, object_type, object_id, step_id, action)
            VALUES ($1,$2,$3,$4,$5,$6)`,
			uuid.NewString(), step.TenantID, step.ObjectType, step.ObjectID,
			step.StepID, action); err != nil {
			return fmt.Errorf("insert workflow mapping for %s: %w", step.StepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workflow step: %w", err)
	}
	return nil
}

const stepColumns = `step_id, tenant_id, step_type, status, owner_id, principal_id,
    request_data, response_data, error_message, comment, created_at, updated_at,
    completed_at, completed_by, object_type, object_id`

func scanStep(row interface{ Scan(...any) error }) (*models.WorkflowStep, error) {
	var s models.WorkflowStep
	var owner, principal, request, response, errMsg, comment, completedBy, objType, objID sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&s.StepID, &s.TenantID, &s.StepType, &s.Status, &owner,
		&principal, &request, &response, &errMsg, &comment, &s.CreatedAt,
		&s.UpdatedAt, &completedAt, &completedBy, &objType, &objID); err != nil {
		return nil, err
	}
	s.OwnerID = owner.String
	s.PrincipalID = principal.String
	s.ErrorMessage = errMsg.String
	s.Comment = comment.String
	s.CompletedBy = completedBy.String
	s.ObjectType = objType.String
	s.ObjectID = objID.String
	if request.Valid {
		s.RequestData = json.RawMessage(request.String)
	}
	if response.Valid {
		s.ResponseData = json.RawMessage(response.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

// GetWorkflowStep retrieves one step. Returns (nil, nil) when absent.
func (p *Postgres) GetWorkflowStep(ctx context.Context, tenantID, stepID string) (*models.WorkflowStep, error) {
	s, err := scanStep(p.DB.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE tenant_id=$1 AND step_id=$2`,
		tenantID, stepID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow step %s: %w", stepID, err)
	}
	return s, nil
}

// StepQuery filters ListWorkflowSteps.
type StepQuery struct {
	TenantID    string
	PrincipalID string
	Statuses    []string
	StepTypes   []string
	ObjectID    string
	Limit       int
	Offset      int
}

// ListWorkflowSteps retrieves steps matching the query, newest first.
func (p *Postgres) ListWorkflowSteps(ctx context.Context, q StepQuery) ([]models.WorkflowStep, int, error) {
	where := `WHERE tenant_id=$1`
	args := []any{q.TenantID}
	if q.PrincipalID != "" {
		args = append(args, q.PrincipalID)
		where += fmt.Sprintf(` AND principal_id=$%d`, len(args))
	}
	if len(q.Statuses) > 0 {
		args = append(args, pq.Array(q.Statuses))
		where += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if len(q.StepTypes) > 0 {
		args = append(args, pq.Array(q.StepTypes))
		where += fmt.Sprintf(` AND step_type = ANY($%d)`, len(args))
	}
	if q.ObjectID != "" {
		args = append(args, q.ObjectID)
		where += fmt.Sprintf(` AND object_id=$%d`, len(args))
	}

	var total int
	if err := p.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_steps `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflow steps: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, q.Offset)
	rows, err := p.DB.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM workflow_steps %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		stepColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query workflow steps: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var steps []models.WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan workflow step: %w", err)
		}
		steps = append(steps, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return steps, total, nil
}

// CompleteWorkflowStep moves an open step to a terminal status. The guard on
// current status runs inside the UPDATE so concurrent completions race
// safely; zero rows affected means the step was absent or already terminal.
func (p *Postgres) CompleteWorkflowStep(ctx context.Context, tenantID, stepID, targetStatus, completedBy, comment string, responseData json.RawMessage) (bool, error) {
	res, err := p.DB.ExecContext(ctx, `UPDATE workflow_steps SET
        status=$1, completed_at=NOW(), completed_by=NULLIF($2,''),
        comment=NULLIF($3,''), response_data=COALESCE($4, response_data), updated_at=NOW()
        WHERE tenant_id=$5 AND step_id=$6
        AND status IN ('pending','in_progress','requires_approval')`,
		targetStatus, completedBy, comment, nullableJSON(responseData), tenantID, stepID)
	if err != nil {
		return false, fmt.Errorf("complete workflow step %s: %w", stepID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertAuditLog records a state-changing operation.
func (p *Postgres) InsertAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.LogID == "" {
		log.LogID = uuid.NewString()
	}
	_, err := p.DB.ExecContext(ctx, `INSERT INTO audit_logs (
        log_id, tenant_id, operation, principal_id, object_type, object_id, success, details)
        VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),$7,$8)`,
		log.LogID, log.TenantID, log.Operation, log.PrincipalID, log.ObjectType,
		log.ObjectID, log.Success, nullableJSON(log.Details))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// StepsForObject retrieves the steps mapped to a business object, oldest
// first.
func (p *Postgres) StepsForObject(ctx context.Context, tenantID, objectType, objectID string) ([]models.WorkflowStep, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+stepColumnsAliased+`
        FROM workflow_steps s
        JOIN object_workflow_mappings m ON m.step_id=s.step_id
        WHERE m.tenant_id=$1 AND m.object_type=$2 AND m.object_id=$3
        ORDER BY s.created_at`,
		tenantID, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("query steps for object %s: %w", objectID, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var steps []models.WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		steps = append(steps, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return steps, nil
}

const stepColumnsAliased = `s.step_id, s.tenant_id, s.step_type, s.status, s.owner_id,
    s.principal_id, s.request_data, s.response_data, s.error_message, s.comment,
    s.created_at, s.updated_at, s.completed_at, s.completed_by, s.object_type, s.object_id`
