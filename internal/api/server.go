package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/analytics"
	"github.com/openadcp/salesagent/internal/config"
	"github.com/openadcp/salesagent/internal/inventory"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/scheduler"
)

// AdminStore is the persistence surface of the admin routes. *db.Postgres
// implements it.
type AdminStore interface {
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	GetTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
	UpsertTenant(ctx context.Context, t *models.Tenant) error
	UpsertPrincipal(ctx context.Context, pr *models.Principal) error
	UpsertProduct(ctx context.Context, prod *models.Product) error
	DeleteProduct(ctx context.Context, tenantID, productID string) error
	LoadProducts(ctx context.Context, tenantID string) ([]models.Product, error)
	UpsertProperty(ctx context.Context, tenantID, propertyID string, prop adcp.Property) error
	UpsertPushConfig(ctx context.Context, cfg *models.PushNotificationConfig) error
}

// Server is the HTTP surface: the MCP transport plus health, metrics, admin
// provisioning, and the testing hooks.
type Server struct {
	Router *mux.Router

	// Health probes run on /healthz, keyed by dependency name. DBStats and
	// StatusSched feed the testing debug routes. All three are optional and
	// set by the caller after construction.
	Health      map[string]func(context.Context) error
	DBStats     func() sql.DBStats
	StatusSched *scheduler.StatusScheduler

	cfg       config.Config
	store     AdminStore
	inventory *inventory.Engine
	webhooks  *scheduler.WebhookScheduler
	delivery  analytics.DeliveryService
}

// NewServer assembles the router. The MCP handler is mounted at /mcp behind
// the header-capture middleware; testing routes appear only with
// ADCP_TESTING on.
func NewServer(cfg config.Config, store AdminStore, mcpHandler http.Handler,
	inv *inventory.Engine, hooks *scheduler.WebhookScheduler, delivery analytics.DeliveryService) *Server {

	s := &Server{
		Router:    mux.NewRouter(),
		cfg:       cfg,
		store:     store,
		inventory: inv,
		webhooks:  hooks,
		delivery:  delivery,
	}

	s.Router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.Router.PathPrefix("/mcp").Handler(CaptureHeaders(cfg.Testing)(mcpHandler))

	if cfg.UnifiedMode {
		admin := s.Router.PathPrefix("/admin").Subrouter()
		admin.Use(func(next http.Handler) http.Handler {
			return requireToken(cfg.AdminToken, next)
		})
		admin.HandleFunc("/tenants", s.handleListTenants).Methods(http.MethodGet)
		admin.HandleFunc("/tenants/{tenant_id}", s.handleUpsertTenant).Methods(http.MethodPut)
		admin.HandleFunc("/tenants/{tenant_id}/principals/{principal_id}", s.handleUpsertPrincipal).Methods(http.MethodPut)
		admin.HandleFunc("/tenants/{tenant_id}/products", s.handleListProducts).Methods(http.MethodGet)
		admin.HandleFunc("/tenants/{tenant_id}/products/{product_id}", s.handleUpsertProduct).Methods(http.MethodPut)
		admin.HandleFunc("/tenants/{tenant_id}/products/{product_id}", s.handleDeleteProduct).Methods(http.MethodDelete)
		admin.HandleFunc("/tenants/{tenant_id}/properties/{property_id}", s.handleUpsertProperty).Methods(http.MethodPut)
		admin.HandleFunc("/tenants/{tenant_id}/push-configs", s.handleUpsertPushConfig).Methods(http.MethodPost)
		admin.HandleFunc("/tenants/{tenant_id}/inventory/sync", s.handleTriggerSync).Methods(http.MethodPost)
		admin.HandleFunc("/inventory/sync/{sync_id}", s.handleSyncStatus).Methods(http.MethodGet)
	}

	if cfg.Testing {
		testing := s.Router.PathPrefix("/testing").Subrouter()
		testing.HandleFunc("/delivery-events", s.handleInjectDelivery).Methods(http.MethodPost)
		testing.HandleFunc("/tenants/{tenant_id}/media-buys/{media_buy_id}/report", s.handleTriggerReport).Methods(http.MethodPost)
		testing.HandleFunc("/db-stats", s.handleDBStats).Methods(http.MethodGet)
		testing.HandleFunc("/schedulers", s.handleSchedulerState).Methods(http.MethodGet)
	}

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true
	for name, probe := range s.Health {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := probe(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
		cancel()
	}

	body := map[string]any{"status": "ok"}
	code := http.StatusOK
	if !healthy {
		body["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, code, body)
}

func (s *Server) handleDBStats(w http.ResponseWriter, _ *http.Request) {
	if s.DBStats == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("db stats not wired"))
		return
	}
	writeJSON(w, http.StatusOK, s.DBStats())
}

func (s *Server) handleSchedulerState(w http.ResponseWriter, _ *http.Request) {
	state := map[string]any{}
	if s.StatusSched != nil {
		state["status"] = map[string]any{
			"running":  s.StatusSched.Running(),
			"interval": s.StatusSched.Interval.String(),
		}
	}
	if s.webhooks != nil {
		state["delivery_webhooks"] = map[string]any{
			"running":  s.webhooks.Running(),
			"interval": s.webhooks.Interval.String(),
		}
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (s *Server) handleUpsertTenant(w http.ResponseWriter, r *http.Request) {
	var tenant models.Tenant
	if err := json.NewDecoder(r.Body).Decode(&tenant); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tenant.TenantID = mux.Vars(r)["tenant_id"]
	if err := s.store.UpsertTenant(r.Context(), &tenant); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	zap.L().Info("tenant upserted", zap.String("tenant_id", tenant.TenantID))
	writeJSON(w, http.StatusOK, tenant)
}

// adminPrincipal accepts the access token on the wire; the model never
// serializes it back out.
type adminPrincipal struct {
	models.Principal
	AccessToken string `json:"access_token"`
}

func (s *Server) handleUpsertPrincipal(w http.ResponseWriter, r *http.Request) {
	var body adminPrincipal
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vars := mux.Vars(r)
	pr := body.Principal
	pr.TenantID = vars["tenant_id"]
	pr.PrincipalID = vars["principal_id"]
	pr.AccessToken = body.AccessToken
	if pr.AccessToken == "" {
		writeError(w, http.StatusBadRequest, errMissingField("access_token"))
		return
	}
	if err := s.store.UpsertPrincipal(r.Context(), &pr); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	zap.L().Info("principal upserted",
		zap.String("tenant_id", pr.TenantID),
		zap.String("principal_id", pr.PrincipalID))
	writeJSON(w, http.StatusOK, pr)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.LoadProducts(r.Context(), mux.Vars(r)["tenant_id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) handleUpsertProduct(w http.ResponseWriter, r *http.Request) {
	var prod models.Product
	if err := json.NewDecoder(r.Body).Decode(&prod); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vars := mux.Vars(r)
	prod.TenantID = vars["tenant_id"]
	prod.ProductID = vars["product_id"]
	if err := s.store.UpsertProduct(r.Context(), &prod); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prod)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.DeleteProduct(r.Context(), vars["tenant_id"], vars["product_id"]); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertProperty(w http.ResponseWriter, r *http.Request) {
	var prop adcp.Property
	if err := json.NewDecoder(r.Body).Decode(&prop); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vars := mux.Vars(r)
	if err := s.store.UpsertProperty(r.Context(), vars["tenant_id"], vars["property_id"], prop); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

func (s *Server) handleUpsertPushConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.PushNotificationConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg.TenantID = mux.Vars(r)["tenant_id"]
	if cfg.MediaBuyID == "" || cfg.URL == "" {
		writeError(w, http.StatusBadRequest, errMissingField("media_buy_id and url"))
		return
	}
	if err := s.store.UpsertPushConfig(r.Context(), &cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	tenant, err := s.store.GetTenantByID(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if tenant == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("tenant %s not found", tenantID))
		return
	}
	var req inventory.Request
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	resp, aerr := s.inventory.Sync(r.Context(), tenant, &req)
	if aerr != nil {
		writeJSON(w, statusForCode(aerr.Code), map[string]any{"errors": []adcp.Error{*aerr}})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp, aerr := s.inventory.Status(r.Context(), mux.Vars(r)["sync_id"])
	if aerr != nil {
		writeJSON(w, statusForCode(aerr.Code), map[string]any{"errors": []adcp.Error{*aerr}})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleInjectDelivery seeds synthetic delivery events so end-to-end tests
// can exercise reporting without a live ad server.
func (s *Server) handleInjectDelivery(w http.ResponseWriter, r *http.Request) {
	var event analytics.DeliveryEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.delivery.RecordDelivery(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, event)
}

func (s *Server) handleTriggerReport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.webhooks.TriggerReportForMediaBuy(r.Context(), vars["tenant_id"], vars["media_buy_id"]); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func statusForCode(code string) int {
	switch code {
	case adcp.CodeNotFound:
		return http.StatusNotFound
	case adcp.CodeValidation, adcp.CodeInvalidRequest:
		return http.StatusBadRequest
	case adcp.CodeAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type errMissingField string

func (e errMissingField) Error() string { return string(e) + " is required" }
