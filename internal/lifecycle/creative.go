package lifecycle

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
)

const defaultCreativePageSize = 50

// SyncCreatives upserts creatives into the tenant library and optionally
// assigns them to packages. Each creative succeeds or fails on its own
// unless validation_mode is strict; assignment failures never roll back
// creative upserts.
func (e *Engine) SyncCreatives(ctx context.Context, rc *auth.RequestContext, req *adcp.SyncCreativesRequest) (*adcp.SyncCreativesResponse, *adcp.Error) {
	if len(req.Creatives) == 0 && len(req.Assignments) == 0 {
		return nil, adcp.Errorf(adcp.CodeValidation, "creatives or assignments must be provided")
	}
	switch req.ValidationMode {
	case "", adcp.ValidationModeLenient, adcp.ValidationModeStrict:
	default:
		return nil, adcp.Errorf(adcp.CodeValidation, "validation_mode must be lenient or strict")
	}
	if req.DeleteMissing && len(req.Creatives) == 0 {
		return nil, adcp.Errorf(adcp.CodeValidation, "delete_missing requires creatives")
	}
	dryRun := rc.Testing.DryRun || req.DryRun

	// Strict mode rejects the whole batch before anything is written.
	if req.ValidationMode == adcp.ValidationModeStrict {
		for _, c := range req.Creatives {
			if _, msg := e.resolveSync(ctx, rc, c, req.Patch); msg != "" {
				return nil, adcp.Errorf(adcp.CodeValidation, "creative %s: %s", c.CreativeID, msg)
			}
		}
	}

	resp := &adcp.SyncCreativesResponse{DryRun: dryRun}
	synced := make(map[string]bool, len(req.Creatives))

	for _, c := range req.Creatives {
		result := e.syncOne(ctx, rc, c, req.Patch, dryRun)
		if result.Action != adcp.SyncActionFailed {
			synced[c.CreativeID] = true
		}
		resp.Results = append(resp.Results, result)
	}

	if req.DeleteMissing && !dryRun {
		keep := make([]string, 0, len(req.Creatives))
		for _, c := range req.Creatives {
			keep = append(keep, c.CreativeID)
		}
		deleted, err := e.Store.DeleteCreativesExcept(ctx, rc.Tenant.TenantID, rc.PrincipalID(), keep)
		if err != nil {
			return nil, adcp.WrapError(adcp.CodeUnavailable, "delete missing creatives", err)
		}
		for _, id := range deleted {
			resp.Results = append(resp.Results,
				adcp.CreativeSyncResult{CreativeID: id, Action: adcp.SyncActionDeleted})
		}
	}

	for creativeID, packageIDs := range req.Assignments {
		for _, packageID := range packageIDs {
			resp.Assignments = append(resp.Assignments,
				e.assignOne(ctx, rc, creativeID, packageID, synced[creativeID], dryRun))
		}
	}

	e.audit(ctx, rc, "sync_creatives", "creative", "", true, map[string]any{
		"creatives":   len(req.Creatives),
		"assignments": len(resp.Assignments),
		"dry_run":     dryRun,
	})
	return resp, nil
}

// resolveSync validates one incoming creative and, in patch mode, merges it
// over the library record first. It returns the creative that should be
// written, or a failure message.
func (e *Engine) resolveSync(ctx context.Context, rc *auth.RequestContext, c adcp.Creative, patch bool) (adcp.Creative, string) {
	if c.CreativeID == "" {
		return c, "creative_id is required"
	}
	if patch {
		existing, err := e.Store.GetCreative(ctx, rc.Tenant.TenantID, c.CreativeID)
		if err != nil {
			return c, "library lookup failed: " + err.Error()
		}
		if existing == nil {
			return c, "patch requires an existing creative"
		}
		c = mergePatch(existing, c)
	}
	if c.Name == "" {
		return c, "name is required"
	}
	spec, err := e.Formats.GetFormat(ctx, rc.Tenant.TenantID, c.FormatID)
	if err != nil {
		return c, "format resolution failed: " + err.Error()
	}
	if aerr := adcp.ValidateCreative(c, spec); aerr != nil {
		return c, aerr.Message
	}
	return c, ""
}

// mergePatch lays the provided fields of a patch over the stored creative.
// Omitted fields keep their library values; assets merge per slot.
func mergePatch(existing *models.CreativeRecord, c adcp.Creative) adcp.Creative {
	merged := existing.ToWire()
	if c.Name != "" {
		merged.Name = c.Name
	}
	if c.FormatID.ID != "" {
		merged.FormatID = c.FormatID
	}
	if len(c.Assets) > 0 {
		assets := make(map[string]adcp.Asset, len(merged.Assets)+len(c.Assets))
		for k, v := range merged.Assets {
			assets[k] = v
		}
		for k, v := range c.Assets {
			assets[k] = v
		}
		merged.Assets = assets
	}
	if c.Tags != nil {
		merged.Tags = c.Tags
	}
	if c.DeliverySettings != nil {
		merged.DeliverySettings = c.DeliverySettings
	}
	return merged
}

func (e *Engine) syncOne(ctx context.Context, rc *auth.RequestContext, c adcp.Creative, patch, dryRun bool) adcp.CreativeSyncResult {
	failed := func(msg string) adcp.CreativeSyncResult {
		return adcp.CreativeSyncResult{CreativeID: c.CreativeID, Action: adcp.SyncActionFailed, Errors: []string{msg}}
	}
	resolved, msg := e.resolveSync(ctx, rc, c, patch)
	if msg != "" {
		return failed(msg)
	}
	c = resolved

	tenant := rc.Tenant
	status := adcp.CreativeStatusPendingReview
	if tenant.AutoApprovesFormat(c.FormatID.ID) {
		status = adcp.CreativeStatusApproved
	}

	existing, err := e.Store.GetCreative(ctx, tenant.TenantID, c.CreativeID)
	if err != nil {
		return failed("library lookup failed: " + err.Error())
	}
	action := adcp.SyncActionCreated
	if existing != nil {
		action = adcp.SyncActionUpdated
		// A re-synced creative goes back through review unless the tenant
		// auto-approves its format.
	}

	if dryRun {
		return adcp.CreativeSyncResult{CreativeID: c.CreativeID, Action: action, Status: status}
	}

	rec := &models.CreativeRecord{
		TenantID:    tenant.TenantID,
		CreativeID:  c.CreativeID,
		PrincipalID: rc.PrincipalID(),
		Name:        c.Name,
		FormatID:    c.FormatID.Normalize(),
		Status:      status,
		Assets:      c.Assets,
		Tags:        c.Tags,
	}
	created, err := e.Store.UpsertCreative(ctx, rec)
	if err != nil {
		return failed("upsert failed: " + err.Error())
	}
	action = adcp.SyncActionUpdated
	if created {
		action = adcp.SyncActionCreated
	}

	if status == adcp.CreativeStatusPendingReview {
		raw, _ := json.Marshal(c)
		step := &models.WorkflowStep{
			StepID:      NewStepID(),
			TenantID:    tenant.TenantID,
			StepType:    models.StepTypeCreativeReview,
			Status:      models.StepRequiresApproval,
			PrincipalID: rc.PrincipalID(),
			RequestData: raw,
			ObjectType:  "creative",
			ObjectID:    c.CreativeID,
		}
		if err := e.Store.InsertWorkflowStep(ctx, step, "review"); err != nil {
			zap.L().Error("open creative review step",
				zap.String("creative_id", c.CreativeID), zap.Error(err))
		} else {
			e.countWorkflowStep(models.StepTypeCreativeReview)
		}
	}
	return adcp.CreativeSyncResult{CreativeID: c.CreativeID, Action: action, Status: status}
}

func (e *Engine) assignOne(ctx context.Context, rc *auth.RequestContext, creativeID, packageID string, justSynced, dryRun bool) adcp.AssignmentResult {
	failed := func(msg string) adcp.AssignmentResult {
		return adcp.AssignmentResult{CreativeID: creativeID, PackageID: packageID, Status: "failed", Error: msg}
	}

	if !justSynced {
		rec, err := e.Store.GetCreative(ctx, rc.Tenant.TenantID, creativeID)
		if err != nil {
			return failed("library lookup failed: " + err.Error())
		}
		if rec == nil {
			return failed("creative not found in library")
		}
	}

	mediaBuyID, ok := MediaBuyIDFromPackageID(packageID)
	if !ok {
		return failed("unrecognized package id")
	}
	buy, aerr := e.resolveBuy(ctx, rc, mediaBuyID, "")
	if aerr != nil {
		return failed(aerr.Message)
	}

	if dryRun {
		return adcp.AssignmentResult{CreativeID: creativeID, PackageID: packageID, Status: "assigned"}
	}
	if err := e.Store.UpsertAssignment(ctx, models.CreativeAssignment{
		TenantID:   rc.Tenant.TenantID,
		MediaBuyID: buy.MediaBuyID,
		PackageID:  packageID,
		CreativeID: creativeID,
	}); err != nil {
		return failed("assignment failed: " + err.Error())
	}
	return adcp.AssignmentResult{CreativeID: creativeID, PackageID: packageID, Status: "assigned"}
}

// ListCreatives pages through the principal's creative library.
func (e *Engine) ListCreatives(ctx context.Context, rc *auth.RequestContext, req *adcp.ListCreativesRequest) (*adcp.ListCreativesResponse, *adcp.Error) {
	q := db.CreativeQuery{
		TenantID:    rc.Tenant.TenantID,
		PrincipalID: rc.PrincipalID(),
		Limit:       defaultCreativePageSize,
	}
	if req.Filters != nil {
		q.Statuses = req.Filters.Statuses
		q.FormatIDs = req.Filters.FormatIDs
		q.Tags = req.Filters.Tags
		q.MediaBuyIDs = req.Filters.MediaBuyIDs
		q.BuyerRefs = req.Filters.BuyerRefs
		q.Search = req.Filters.Search
		if req.Filters.CreatedAfter != nil {
			q.CreatedAfter = &req.Filters.CreatedAfter.Time
		}
		if req.Filters.CreatedBefore != nil {
			q.CreatedBefore = &req.Filters.CreatedBefore.Time
		}
	}
	if req.Pagination != nil {
		if req.Pagination.Limit > 0 {
			q.Limit = req.Pagination.Limit
		}
		if req.Pagination.Offset > 0 {
			q.Offset = req.Pagination.Offset
		}
	}
	if req.Sort != nil {
		q.SortField = req.Sort.Field
		q.SortAscending = req.Sort.Direction == "asc"
	}

	recs, total, err := e.Store.ListCreatives(ctx, q)
	if err != nil {
		return nil, adcp.WrapError(adcp.CodeUnavailable, "list creatives", err)
	}

	resp := &adcp.ListCreativesResponse{
		Creatives:    make([]adcp.ListedCreative, 0, len(recs)),
		QuerySummary: adcp.QuerySummary{TotalMatching: total},
		Pagination: adcp.PageInfo{
			Limit:       q.Limit,
			Offset:      q.Offset,
			CurrentPage: q.Offset/q.Limit + 1,
			HasMore:     q.Offset+len(recs) < total,
		},
	}
	for i := range recs {
		resp.Creatives = append(resp.Creatives, recs[i].ToListed())
	}
	return resp, nil
}
