package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adapters"
	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/analytics"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
	"github.com/openadcp/salesagent/internal/registry"
)

// Store is the persistence surface the engine uses. *db.Postgres implements
// it; tests substitute a fake.
type Store interface {
	GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error)
	LoadProducts(ctx context.Context, tenantID string) ([]models.Product, error)
	ListProperties(ctx context.Context, tenantID string, tags []string) ([]adcp.Property, error)

	CreateMediaBuyTx(ctx context.Context, buy *models.MediaBuy, packages []models.MediaPackage, assignments []models.CreativeAssignment) error
	GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error)
	GetMediaBuyByBuyerRef(ctx context.Context, tenantID, principalID, buyerRef string) (*models.MediaBuy, error)
	ListMediaBuys(ctx context.Context, q db.MediaBuyQuery) ([]models.MediaBuy, error)
	LoadPackages(ctx context.Context, tenantID, mediaBuyID string) ([]models.MediaPackage, error)
	UpdateMediaBuyTx(ctx context.Context, tenantID, mediaBuyID string, patch db.MediaBuyPatch) error
	UpdateMediaBuyStatus(ctx context.Context, tenantID, mediaBuyID, status string) error

	UpsertCreative(ctx context.Context, rec *models.CreativeRecord) (bool, error)
	GetCreative(ctx context.Context, tenantID, creativeID string) (*models.CreativeRecord, error)
	ListCreatives(ctx context.Context, q db.CreativeQuery) ([]models.CreativeRecord, int, error)
	DeleteCreativesExcept(ctx context.Context, tenantID, principalID string, keep []string) ([]string, error)
	UpsertAssignment(ctx context.Context, a models.CreativeAssignment) error
	ListAssignments(ctx context.Context, tenantID, mediaBuyID string) ([]models.CreativeAssignment, error)

	InsertWorkflowStep(ctx context.Context, step *models.WorkflowStep, action string) error
	InsertAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Engine implements the media buy, creative, catalog, and delivery
// operations on top of the store, the format registry, and the platform
// adapters.
type Engine struct {
	Store    Store
	Formats  registry.FormatSource
	Adapters map[string]adapters.Adapter
	Guards   map[string]*adapters.Guard
	Delivery analytics.DeliveryService
	Metrics  observability.MetricsRegistry

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// adapterFor selects the tenant's adapter.
func (e *Engine) adapterFor(tenant *models.Tenant) (adapters.Adapter, *adcp.Error) {
	a, err := adapters.ForTenant(e.Adapters, tenant)
	if err != nil {
		return nil, adcp.Errorf(adcp.CodeDataIntegrity, "tenant %s: %s", tenant.TenantID, err.Error())
	}
	return a, nil
}

// execute runs an adapter call, under the adapter's guard when one is
// configured.
func (e *Engine) execute(ctx context.Context, adapterName, operation string, fn func(ctx context.Context) error) *adcp.Error {
	g := e.Guards[adapterName]
	if g == nil {
		if err := fn(ctx); err != nil {
			return adcp.WrapError(adcp.CodeAdapter, adapterName+" "+operation+" failed", err)
		}
		return nil
	}
	return g.Execute(ctx, adapterName, operation, fn)
}

// audit records a state-changing operation. Audit failures are logged, never
// surfaced; the operation itself already succeeded or failed on its own
// terms.
func (e *Engine) audit(ctx context.Context, rc *auth.RequestContext, operation, objectType, objectID string, success bool, details any) {
	var raw json.RawMessage
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			raw = b
		}
	}
	log := &models.AuditLog{
		TenantID:    rc.Tenant.TenantID,
		Operation:   operation,
		PrincipalID: rc.PrincipalID(),
		ObjectType:  objectType,
		ObjectID:    objectID,
		Success:     success,
		Details:     raw,
	}
	if err := e.Store.InsertAuditLog(ctx, log); err != nil {
		zap.L().Error("write audit log", zap.String("operation", operation), zap.Error(err))
	}
}

func (e *Engine) countWorkflowStep(stepType string) {
	if e.Metrics != nil {
		e.Metrics.IncrementWorkflowSteps(stepType)
	}
}
