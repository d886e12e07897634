package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadcp/salesagent/internal/adapters"
	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/analytics"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
	"github.com/openadcp/salesagent/internal/registry"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	products    map[string]models.Product
	creatives   map[string]*models.CreativeRecord
	buys        map[string]*models.MediaBuy
	packages    map[string][]models.MediaPackage
	assignments []models.CreativeAssignment
	steps       []models.WorkflowStep
	audits      []models.AuditLog
	properties  []adcp.Property
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:  map[string]models.Product{},
		creatives: map[string]*models.CreativeRecord{},
		buys:      map[string]*models.MediaBuy{},
		packages:  map[string][]models.MediaPackage{},
	}
}

func (f *fakeStore) GetProduct(_ context.Context, _, productID string) (*models.Product, error) {
	p, ok := f.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) LoadProducts(_ context.Context, _ string) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (f *fakeStore) ListProperties(_ context.Context, _ string, _ []string) ([]adcp.Property, error) {
	return f.properties, nil
}

func (f *fakeStore) CreateMediaBuyTx(_ context.Context, buy *models.MediaBuy,
	packages []models.MediaPackage, assignments []models.CreativeAssignment) error {
	copied := *buy
	copied.CreatedAt = time.Now().UTC()
	f.buys[buy.MediaBuyID] = &copied
	f.packages[buy.MediaBuyID] = packages
	f.assignments = append(f.assignments, assignments...)
	return nil
}

func (f *fakeStore) GetMediaBuy(_ context.Context, _, mediaBuyID string) (*models.MediaBuy, error) {
	return f.buys[mediaBuyID], nil
}

func (f *fakeStore) GetMediaBuyByBuyerRef(_ context.Context, _, principalID, buyerRef string) (*models.MediaBuy, error) {
	for _, buy := range f.buys {
		if buy.PrincipalID == principalID && buy.BuyerRef == buyerRef {
			return buy, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListMediaBuys(_ context.Context, q db.MediaBuyQuery) ([]models.MediaBuy, error) {
	var out []models.MediaBuy
	for _, buy := range f.buys {
		if buy.PrincipalID != q.PrincipalID {
			continue
		}
		if len(q.MediaBuyIDs) > 0 && !contains(q.MediaBuyIDs, buy.MediaBuyID) {
			continue
		}
		if len(q.BuyerRefs) > 0 && !contains(q.BuyerRefs, buy.BuyerRef) {
			continue
		}
		if len(q.Statuses) > 0 && !contains(q.Statuses, buy.Status) {
			continue
		}
		out = append(out, *buy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MediaBuyID < out[j].MediaBuyID })
	return out, nil
}

func (f *fakeStore) LoadPackages(_ context.Context, _, mediaBuyID string) ([]models.MediaPackage, error) {
	return f.packages[mediaBuyID], nil
}

func (f *fakeStore) UpdateMediaBuyTx(_ context.Context, _, mediaBuyID string, patch db.MediaBuyPatch) error {
	buy, ok := f.buys[mediaBuyID]
	if !ok {
		return fmt.Errorf("media buy %s not found", mediaBuyID)
	}
	if patch.StartTime != nil {
		buy.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		buy.EndTime = *patch.EndTime
	}
	pkgs := f.packages[mediaBuyID]
	for _, pp := range patch.Packages {
		found := false
		for i := range pkgs {
			if pkgs[i].PackageID != pp.PackageID {
				continue
			}
			found = true
			if pp.Budget != nil {
				pkgs[i].Budget = *pp.Budget
			}
			if pp.Paused != nil {
				pkgs[i].Paused = *pp.Paused
			}
			if pp.BidPrice != nil {
				pkgs[i].BidPrice = pp.BidPrice
			}
		}
		if !found {
			return fmt.Errorf("package %s not found in media buy %s", pp.PackageID, mediaBuyID)
		}
	}
	if patch.Paused != nil {
		for i := range pkgs {
			pkgs[i].Paused = *patch.Paused
		}
	}
	return nil
}

func (f *fakeStore) UpdateMediaBuyStatus(_ context.Context, _, mediaBuyID, status string) error {
	buy, ok := f.buys[mediaBuyID]
	if !ok {
		return fmt.Errorf("media buy %s not found", mediaBuyID)
	}
	buy.Status = status
	return nil
}

func (f *fakeStore) UpsertCreative(_ context.Context, rec *models.CreativeRecord) (bool, error) {
	_, existed := f.creatives[rec.CreativeID]
	copied := *rec
	copied.CreatedAt = time.Now().UTC()
	f.creatives[rec.CreativeID] = &copied
	return !existed, nil
}

func (f *fakeStore) GetCreative(_ context.Context, _, creativeID string) (*models.CreativeRecord, error) {
	return f.creatives[creativeID], nil
}

func (f *fakeStore) ListCreatives(_ context.Context, q db.CreativeQuery) ([]models.CreativeRecord, int, error) {
	var all []models.CreativeRecord
	for _, rec := range f.creatives {
		if rec.PrincipalID != q.PrincipalID {
			continue
		}
		if len(q.Statuses) > 0 && !contains(q.Statuses, rec.Status) {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(rec.Name), strings.ToLower(q.Search)) {
			continue
		}
		if q.CreatedAfter != nil && !rec.CreatedAt.After(*q.CreatedAfter) {
			continue
		}
		if q.CreatedBefore != nil && !rec.CreatedAt.Before(*q.CreatedBefore) {
			continue
		}
		if len(q.BuyerRefs) > 0 && !f.assignedUnderBuyerRef(rec.CreativeID, q.BuyerRefs) {
			continue
		}
		all = append(all, *rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreativeID < all[j].CreativeID })
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

func (f *fakeStore) assignedUnderBuyerRef(creativeID string, refs []string) bool {
	for _, a := range f.assignments {
		if a.CreativeID != creativeID {
			continue
		}
		if buy := f.buys[a.MediaBuyID]; buy != nil && contains(refs, buy.BuyerRef) {
			return true
		}
	}
	return false
}

func (f *fakeStore) DeleteCreativesExcept(_ context.Context, _, principalID string, keep []string) ([]string, error) {
	var deleted []string
	for id, rec := range f.creatives {
		if rec.PrincipalID != principalID || contains(keep, id) {
			continue
		}
		delete(f.creatives, id)
		deleted = append(deleted, id)
	}
	var remaining []models.CreativeAssignment
	for _, a := range f.assignments {
		if !contains(deleted, a.CreativeID) {
			remaining = append(remaining, a)
		}
	}
	f.assignments = remaining
	sort.Strings(deleted)
	return deleted, nil
}

func (f *fakeStore) UpsertAssignment(_ context.Context, a models.CreativeAssignment) error {
	f.assignments = append(f.assignments, a)
	return nil
}

func (f *fakeStore) ListAssignments(_ context.Context, _, mediaBuyID string) ([]models.CreativeAssignment, error) {
	var out []models.CreativeAssignment
	for _, a := range f.assignments {
		if a.MediaBuyID == mediaBuyID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertWorkflowStep(_ context.Context, step *models.WorkflowStep, _ string) error {
	f.steps = append(f.steps, *step)
	return nil
}

func (f *fakeStore) InsertAuditLog(_ context.Context, log *models.AuditLog) error {
	f.audits = append(f.audits, *log)
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

const testAgentURL = "https://creative.example.com"

func testFormatID(id string) adcp.FormatID {
	return adcp.FormatID{AgentURL: testAgentURL, ID: id}
}

func testEngine(t *testing.T, tenant *models.Tenant) (*Engine, *fakeStore, *auth.RequestContext) {
	t.Helper()
	store := newFakeStore()
	engine := &Engine{
		Store: store,
		Formats: &registry.StaticSource{Specs: map[string]*adcp.FormatSpec{
			testFormatID("display_300x250").String(): {
				FormatID:       testFormatID("display_300x250"),
				Name:           "Medium Rectangle",
				RequiredAssets: []string{"image"},
			},
		}},
		Adapters: map[string]adapters.Adapter{models.AdServerMock: adapters.NewMockAdapter()},
		Guards: map[string]*adapters.Guard{
			models.AdServerMock: adapters.NewGuard(models.AdServerMock, time.Second, observability.NewNoOpRegistry()),
		},
		Delivery: analytics.NewMockDelivery(),
		Metrics:  observability.NewNoOpRegistry(),
		Clock:    func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
	rc := &auth.RequestContext{
		Tenant: tenant,
		Principal: &models.Principal{
			PrincipalID: "principal_1",
			TenantID:    tenant.TenantID,
			Name:        "Acme DSP",
		},
	}
	return engine, store, rc
}

func mockTenant(approvalMode string) *models.Tenant {
	return &models.Tenant{
		TenantID:     "t1",
		Name:         "Test Publisher",
		AdServer:     models.AdServerMock,
		ApprovalMode: approvalMode,
		Active:       true,
	}
}

func seedProduct(store *fakeStore) {
	rate := 12.5
	store.products["prod_display"] = models.Product{
		TenantID:            "t1",
		ProductID:           "prod_display",
		Name:                "Run of Site Display",
		FormatIDs:           []adcp.FormatID{testFormatID("display_300x250")},
		DeliveryType:        adcp.DeliveryNonGuaranteed,
		PublisherProperties: json.RawMessage(`[{"property_type":"website","name":"example.com"}]`),
		PricingOptions: []adcp.PricingOption{{
			PricingOptionID: "cpm_usd",
			PricingModel:    adcp.PricingModelCPM,
			Currency:        "USD",
			IsFixed:         true,
			Rate:            &rate,
		}},
		ImplementationConfig: models.ImplementationConfig{
			LineItemType:            models.LineItemTypePricePriority,
			NonGuaranteedAutomation: models.AutomationAutomatic,
		},
	}
}

func seedCreative(store *fakeStore, creativeID, status string) {
	store.creatives[creativeID] = &models.CreativeRecord{
		TenantID:    "t1",
		CreativeID:  creativeID,
		PrincipalID: "principal_1",
		Name:        "Banner " + creativeID,
		FormatID:    testFormatID("display_300x250"),
		Status:      status,
		Assets: map[string]adcp.Asset{
			"image": {URL: "https://cdn.example.com/" + creativeID + ".png", Width: 300, Height: 250},
		},
		CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func createRequest() *adcp.CreateMediaBuyRequest {
	return &adcp.CreateMediaBuyRequest{
		BuyerRef:      "br_campaign_1",
		BrandManifest: json.RawMessage(`{"url":"https://brand.example.com"}`),
		PONumber:      "PO-2026-17",
		Packages: []adcp.PackageRequest{{
			BuyerRef:        "br_pkg_1",
			ProductID:       "prod_display",
			PricingOptionID: "cpm_usd",
			Budget:          adcp.NewBudget(5000),
			CreativeIDs:     []string{"cr_1"},
		}},
		StartTime: adcp.StartTime{Time: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)},
		EndTime:   adcp.AwareTime{Time: time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)},
		Currency:  "USD",
	}
}

func TestCreateMediaBuyHappyPath(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)

	result := engine.CreateMediaBuy(context.Background(), rc, createRequest())
	success, ok := result.(adcp.CreateMediaBuySuccess)
	require.True(t, ok, "expected success, got %s", result.Summary())

	assert.Equal(t, "br_campaign_1", success.BuyerRef)
	assert.Contains(t, success.MediaBuyID, "po_2026_17")
	require.Len(t, success.Packages, 1)
	assert.Equal(t, NewPackageID(success.MediaBuyID, 1), success.Packages[0].PackageID)
	require.Len(t, success.Packages[0].CreativeAssignments, 1)

	buy := store.buys[success.MediaBuyID]
	require.NotNil(t, buy)
	assert.Equal(t, adcp.StatusScheduled, buy.Status)
	assert.Equal(t, "USD", buy.Currency)
	require.Len(t, store.packages[success.MediaBuyID], 1)
	assert.Equal(t, 5000.0, store.packages[success.MediaBuyID][0].Budget)
	assert.Len(t, store.assignments, 1)
	assert.Empty(t, store.steps)
}

func TestCreateMediaBuyUnknownProduct(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)

	result := engine.CreateMediaBuy(context.Background(), rc, createRequest())
	failure, ok := result.(adcp.CreateMediaBuyError)
	require.True(t, ok)
	require.Len(t, failure.Errors, 1)
	assert.Equal(t, adcp.CodeValidation, failure.Errors[0].Code)
	assert.Contains(t, failure.Errors[0].Message, "prod_display")
	assert.Empty(t, store.buys)
}

func TestCreateMediaBuyManagedTargetingRejected(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)

	req := createRequest()
	req.Packages[0].Targeting = adcp.TargetingOverlay{
		"axe_include_segment": json.RawMessage(`["seg_1"]`),
	}
	result := engine.CreateMediaBuy(context.Background(), rc, req)
	failure, ok := result.(adcp.CreateMediaBuyError)
	require.True(t, ok)
	assert.Contains(t, failure.Errors[0].Message, "Cannot fulfill buyer contract")
	assert.Empty(t, store.buys)
}

func TestCreateMediaBuyHumanApprovalOpensStep(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeHuman))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)

	result := engine.CreateMediaBuy(context.Background(), rc, createRequest())
	success, ok := result.(adcp.CreateMediaBuySuccess)
	require.True(t, ok, result.Summary())

	assert.Equal(t, adcp.StatusPendingActivation, store.buys[success.MediaBuyID].Status)
	require.Len(t, store.steps, 1)
	assert.Equal(t, models.StepTypeMediaBuyApproval, store.steps[0].StepType)
	assert.Equal(t, models.StepRequiresApproval, store.steps[0].Status)
	assert.Equal(t, success.MediaBuyID, store.steps[0].ObjectID)
}

func TestCreateMediaBuyDryRunPersistsNothing(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)
	rc.Testing.DryRun = true

	result := engine.CreateMediaBuy(context.Background(), rc, createRequest())
	_, ok := result.(adcp.CreateMediaBuySuccess)
	require.True(t, ok, result.Summary())
	assert.Empty(t, store.buys)
	assert.Empty(t, store.assignments)
	assert.Empty(t, store.steps)
}

func TestCreateMediaBuyMissingCreative(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)

	result := engine.CreateMediaBuy(context.Background(), rc, createRequest())
	failure, ok := result.(adcp.CreateMediaBuyError)
	require.True(t, ok)
	assert.Contains(t, failure.Errors[0].Message, "cr_1")
}

func TestUpdateMediaBuyPauseAndResume(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)
	created := engine.CreateMediaBuy(context.Background(), rc, createRequest()).(adcp.CreateMediaBuySuccess)
	store.buys[created.MediaBuyID].Status = adcp.StatusActive

	paused := true
	result := engine.UpdateMediaBuy(context.Background(), rc, &adcp.UpdateMediaBuyRequest{
		MediaBuyID: created.MediaBuyID,
		Paused:     &paused,
	})
	success, ok := result.(adcp.UpdateMediaBuySuccess)
	require.True(t, ok, result.Summary())
	assert.Equal(t, adcp.StatusPaused, success.Status)
	assert.Equal(t, adcp.StatusPaused, store.buys[created.MediaBuyID].Status)

	resumed := false
	result = engine.UpdateMediaBuy(context.Background(), rc, &adcp.UpdateMediaBuyRequest{
		BuyerRef: "br_campaign_1",
		Paused:   &resumed,
	})
	success, ok = result.(adcp.UpdateMediaBuySuccess)
	require.True(t, ok, result.Summary())
	assert.Equal(t, adcp.StatusActive, success.Status)
}

func TestUpdateMediaBuyUnknownPackageFails(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)
	created := engine.CreateMediaBuy(context.Background(), rc, createRequest()).(adcp.CreateMediaBuySuccess)

	budget := adcp.NewBudget(9000)
	result := engine.UpdateMediaBuy(context.Background(), rc, &adcp.UpdateMediaBuyRequest{
		MediaBuyID: created.MediaBuyID,
		Packages:   []adcp.PackageUpdate{{PackageID: "nope_pkg_1", Budget: budget}},
	})
	failure, ok := result.(adcp.UpdateMediaBuyError)
	require.True(t, ok)
	assert.Equal(t, adcp.CodeValidation, failure.Errors[0].Code)
	// Original budget untouched.
	assert.Equal(t, 5000.0, store.packages[created.MediaBuyID][0].Budget)
}

func TestUpdateMediaBuyBothSelectorsRejected(t *testing.T) {
	engine, _, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	result := engine.UpdateMediaBuy(context.Background(), rc, &adcp.UpdateMediaBuyRequest{
		MediaBuyID: "mb_1",
		BuyerRef:   "br_1",
	})
	failure, ok := result.(adcp.UpdateMediaBuyError)
	require.True(t, ok)
	assert.Equal(t, adcp.CodeInvalidRequest, failure.Errors[0].Code)
}

func TestUpdateMediaBuyTerminalStatusRejected(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)
	created := engine.CreateMediaBuy(context.Background(), rc, createRequest()).(adcp.CreateMediaBuySuccess)
	store.buys[created.MediaBuyID].Status = adcp.StatusCompleted

	paused := true
	result := engine.UpdateMediaBuy(context.Background(), rc, &adcp.UpdateMediaBuyRequest{
		MediaBuyID: created.MediaBuyID,
		Paused:     &paused,
	})
	failure, ok := result.(adcp.UpdateMediaBuyError)
	require.True(t, ok)
	assert.Contains(t, failure.Errors[0].Message, "completed")
}

func TestSyncCreativesCreateAndReview(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeHuman))

	resp, aerr := engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Creatives: []adcp.Creative{
			{
				CreativeID: "cr_new",
				Name:       "New Banner",
				FormatID:   testFormatID("display_300x250"),
				Assets: map[string]adcp.Asset{
					"image": {URL: "https://cdn.example.com/new.png"},
				},
			},
			{
				CreativeID: "cr_bad",
				Name:       "Broken Banner",
				FormatID:   testFormatID("display_300x250"),
				Assets:     map[string]adcp.Asset{},
			},
		},
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, adcp.SyncActionCreated, resp.Results[0].Action)
	assert.Equal(t, adcp.CreativeStatusPendingReview, resp.Results[0].Status)
	assert.Equal(t, adcp.SyncActionFailed, resp.Results[1].Action)
	assert.NotEmpty(t, resp.Results[1].Errors)

	require.Len(t, store.steps, 1)
	assert.Equal(t, models.StepTypeCreativeReview, store.steps[0].StepType)
	assert.Equal(t, "cr_new", store.steps[0].ObjectID)
	_, exists := store.creatives["cr_bad"]
	assert.False(t, exists)
}

func TestSyncCreativesAutoApproval(t *testing.T) {
	tenant := mockTenant(models.ApprovalModeHuman)
	tenant.AutoApproveFormatIDs = []string{"display_300x250"}
	engine, store, rc := testEngine(t, tenant)

	resp, aerr := engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Creatives: []adcp.Creative{{
			CreativeID: "cr_auto",
			Name:       "Auto Banner",
			FormatID:   testFormatID("display_300x250"),
			Assets: map[string]adcp.Asset{
				"image": {URL: "https://cdn.example.com/auto.png"},
			},
		}},
	})
	require.Nil(t, aerr)
	assert.Equal(t, adcp.CreativeStatusApproved, resp.Results[0].Status)
	assert.Empty(t, store.steps)
}

func TestSyncCreativesAssignments(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)
	created := engine.CreateMediaBuy(context.Background(), rc, createRequest()).(adcp.CreateMediaBuySuccess)
	packageID := created.Packages[0].PackageID
	before := len(store.assignments)

	resp, aerr := engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Assignments: map[string][]string{
			"cr_1":    {packageID},
			"cr_miss": {packageID},
		},
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Assignments, 2)

	byCreative := map[string]adcp.AssignmentResult{}
	for _, a := range resp.Assignments {
		byCreative[a.CreativeID] = a
	}
	assert.Equal(t, "assigned", byCreative["cr_1"].Status)
	assert.Equal(t, "failed", byCreative["cr_miss"].Status)
	assert.Len(t, store.assignments, before+1)
}

func TestSyncCreativesPatchMergesLibraryRecord(t *testing.T) {
	tenant := mockTenant(models.ApprovalModeHuman)
	tenant.AutoApproveFormatIDs = []string{"display_300x250"}
	engine, store, rc := testEngine(t, tenant)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)

	resp, aerr := engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Patch: true,
		Creatives: []adcp.Creative{
			{CreativeID: "cr_1", Name: "Renamed Banner"},
			{CreativeID: "cr_ghost", Name: "Nobody Home"},
		},
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, adcp.SyncActionUpdated, resp.Results[0].Action)
	rec := store.creatives["cr_1"]
	require.NotNil(t, rec)
	assert.Equal(t, "Renamed Banner", rec.Name)
	// Omitted fields keep their library values.
	assert.Contains(t, rec.Assets, "image")

	assert.Equal(t, adcp.SyncActionFailed, resp.Results[1].Action)
	assert.Contains(t, resp.Results[1].Errors[0], "existing creative")
	_, exists := store.creatives["cr_ghost"]
	assert.False(t, exists)
}

func TestSyncCreativesDeleteMissing(t *testing.T) {
	tenant := mockTenant(models.ApprovalModeHuman)
	tenant.AutoApproveFormatIDs = []string{"display_300x250"}
	engine, store, rc := testEngine(t, tenant)
	seedCreative(store, "cr_keep", adcp.CreativeStatusApproved)
	seedCreative(store, "cr_drop", adcp.CreativeStatusApproved)

	keep := adcp.Creative{
		CreativeID: "cr_keep",
		Name:       "Keeper",
		FormatID:   testFormatID("display_300x250"),
		Assets: map[string]adcp.Asset{
			"image": {URL: "https://cdn.example.com/keep.png"},
		},
	}

	// An empty creative list would delete the whole library; refuse it.
	_, aerr := engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		DeleteMissing: true,
		Assignments:   map[string][]string{"cr_keep": {}},
	})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)

	// Dry runs report the upsert but never reach the delete.
	resp, aerr := engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Creatives:     []adcp.Creative{keep},
		DeleteMissing: true,
		DryRun:        true,
	})
	require.Nil(t, aerr)
	assert.True(t, resp.DryRun)
	require.Len(t, resp.Results, 1)
	_, exists := store.creatives["cr_drop"]
	assert.True(t, exists)

	resp, aerr = engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Creatives:     []adcp.Creative{keep},
		DeleteMissing: true,
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, adcp.SyncActionUpdated, resp.Results[0].Action)
	assert.Equal(t, adcp.SyncActionDeleted, resp.Results[1].Action)
	assert.Equal(t, "cr_drop", resp.Results[1].CreativeID)
	_, exists = store.creatives["cr_drop"]
	assert.False(t, exists)
	_, exists = store.creatives["cr_keep"]
	assert.True(t, exists)
}

func TestSyncCreativesStrictValidation(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeHuman))

	good := adcp.Creative{
		CreativeID: "cr_good",
		Name:       "Good Banner",
		FormatID:   testFormatID("display_300x250"),
		Assets: map[string]adcp.Asset{
			"image": {URL: "https://cdn.example.com/good.png"},
		},
	}
	bad := adcp.Creative{
		CreativeID: "cr_bad",
		Name:       "Broken Banner",
		FormatID:   testFormatID("display_300x250"),
	}

	_, aerr := engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Creatives:      []adcp.Creative{good, bad},
		ValidationMode: "partial",
	})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)

	// One invalid creative rejects the whole batch before any write.
	_, aerr = engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Creatives:      []adcp.Creative{good, bad},
		ValidationMode: adcp.ValidationModeStrict,
	})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)
	assert.Contains(t, aerr.Message, "cr_bad")
	assert.Empty(t, store.creatives)
	assert.Empty(t, store.steps)

	// Lenient keeps the good one and fails the bad one on its own.
	resp, aerr := engine.SyncCreatives(context.Background(), rc, &adcp.SyncCreativesRequest{
		Creatives:      []adcp.Creative{good, bad},
		ValidationMode: adcp.ValidationModeLenient,
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, adcp.SyncActionCreated, resp.Results[0].Action)
	assert.Equal(t, adcp.SyncActionFailed, resp.Results[1].Action)
	_, exists := store.creatives["cr_good"]
	assert.True(t, exists)
}

func TestListCreativesPagination(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	for i := 0; i < 5; i++ {
		seedCreative(store, fmt.Sprintf("cr_%d", i), adcp.CreativeStatusApproved)
	}

	resp, aerr := engine.ListCreatives(context.Background(), rc, &adcp.ListCreativesRequest{
		Pagination: &adcp.Pagination{Limit: 2, Offset: 2},
	})
	require.Nil(t, aerr)
	assert.Len(t, resp.Creatives, 2)
	assert.Equal(t, 5, resp.QuerySummary.TotalMatching)
	assert.Equal(t, 2, resp.Pagination.CurrentPage)
	assert.True(t, resp.Pagination.HasMore)
}

func TestListCreativesFiltersByDateRangeAndBuyerRef(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_old", adcp.CreativeStatusApproved)
	seedCreative(store, "cr_new", adcp.CreativeStatusApproved)
	store.creatives["cr_new"].CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	resp, aerr := engine.ListCreatives(context.Background(), rc, &adcp.ListCreativesRequest{
		Filters: &adcp.CreativeFilters{
			CreatedAfter: &adcp.AwareTime{Time: time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)},
		},
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Creatives, 1)
	assert.Equal(t, "cr_new", resp.Creatives[0].CreativeID)

	resp, aerr = engine.ListCreatives(context.Background(), rc, &adcp.ListCreativesRequest{
		Filters: &adcp.CreativeFilters{
			CreatedBefore: &adcp.AwareTime{Time: time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)},
		},
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Creatives, 1)
	assert.Equal(t, "cr_old", resp.Creatives[0].CreativeID)

	// buyer_refs reach creatives through their media buy assignments.
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)
	result := engine.CreateMediaBuy(context.Background(), rc, createRequest())
	created, ok := result.(adcp.CreateMediaBuySuccess)
	require.True(t, ok, "expected success, got %s", result.Summary())

	resp, aerr = engine.ListCreatives(context.Background(), rc, &adcp.ListCreativesRequest{
		Filters: &adcp.CreativeFilters{BuyerRefs: []string{created.BuyerRef}},
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Creatives, 1)
	assert.Equal(t, "cr_1", resp.Creatives[0].CreativeID)

	resp, aerr = engine.ListCreatives(context.Background(), rc, &adcp.ListCreativesRequest{
		Filters: &adcp.CreativeFilters{BuyerRefs: []string{"br_other"}},
	})
	require.Nil(t, aerr)
	assert.Empty(t, resp.Creatives)
}

func TestGetMediaBuyDeliveryFromAnalytics(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	seedCreative(store, "cr_1", adcp.CreativeStatusApproved)
	created := engine.CreateMediaBuy(context.Background(), rc, createRequest()).(adcp.CreateMediaBuySuccess)
	store.buys[created.MediaBuyID].Status = adcp.StatusActive
	// Backdate the flight so the May reporting window overlaps it.
	store.buys[created.MediaBuyID].StartTime = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	packageID := created.Packages[0].PackageID

	mock := engine.Delivery.(*analytics.MockDelivery)
	require.NoError(t, mock.RecordDelivery(context.Background(), analytics.DeliveryEvent{
		Timestamp:   time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC),
		TenantID:    "t1",
		MediaBuyID:  created.MediaBuyID,
		PackageID:   packageID,
		Impressions: 1200,
		Clicks:      30,
		Spend:       15,
	}))

	resp, aerr := engine.GetMediaBuyDelivery(context.Background(), rc, &adcp.GetMediaBuyDeliveryRequest{
		MediaBuyIDs: []string{created.MediaBuyID},
		StartDate:   "2026-05-01",
		EndDate:     "2026-05-31",
	})
	require.Nil(t, aerr)
	require.Len(t, resp.Deliveries, 1)
	assert.Equal(t, int64(1200), resp.Deliveries[0].Totals.Impressions)
	assert.Equal(t, int64(1200), resp.AggregatedTotals.Impressions)
	assert.Equal(t, "USD", resp.Currency)
	require.Len(t, resp.Deliveries[0].ByPackage, 1)
	assert.Equal(t, packageID, resp.Deliveries[0].ByPackage[0].PackageID)
}

func TestGetMediaBuyDeliveryRejectsUnknownStatus(t *testing.T) {
	engine, _, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	_, aerr := engine.GetMediaBuyDelivery(context.Background(), rc, &adcp.GetMediaBuyDeliveryRequest{
		StatusFilter: adcp.StatusFilter{"running"},
	})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeValidation, aerr.Code)
}

func TestGetProductsFilters(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)

	resp, aerr := engine.GetProducts(context.Background(), rc, &adcp.GetProductsRequest{})
	require.Nil(t, aerr)
	require.Len(t, resp.Products, 1)
	// PricingOption.IsFixed never leaks to the wire.
	b, err := json.Marshal(resp.Products[0].PricingOptions[0])
	require.NoError(t, err)
	assert.NotContains(t, string(b), "is_fixed")

	resp, aerr = engine.GetProducts(context.Background(), rc, &adcp.GetProductsRequest{
		Filters: &adcp.ProductFilters{DeliveryType: adcp.DeliveryGuaranteed},
	})
	require.Nil(t, aerr)
	assert.Empty(t, resp.Products)

	resp, aerr = engine.GetProducts(context.Background(), rc, &adcp.GetProductsRequest{
		Filters: &adcp.ProductFilters{NameContains: "run of site"},
	})
	require.Nil(t, aerr)
	assert.Len(t, resp.Products, 1)
}

func TestGetProductsSurfacesMisconfiguredProduct(t *testing.T) {
	engine, store, rc := testEngine(t, mockTenant(models.ApprovalModeAuto))
	seedProduct(store)
	broken := store.products["prod_display"]
	broken.ProductID = "prod_broken"
	broken.FormatIDs = nil
	store.products["prod_broken"] = broken

	_, aerr := engine.GetProducts(context.Background(), rc, &adcp.GetProductsRequest{})
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeDataIntegrity, aerr.Code)
	assert.Contains(t, aerr.Message, "prod_broken")
}

func TestNamingRoundTrip(t *testing.T) {
	buyID := NewMediaBuyID("PO 2026/17")
	assert.Contains(t, buyID, "po2026")

	packageID := NewPackageID(buyID, 3)
	got, ok := MediaBuyIDFromPackageID(packageID)
	require.True(t, ok)
	assert.Equal(t, buyID, got)

	_, ok = MediaBuyIDFromPackageID("something_else")
	assert.False(t, ok)
}
