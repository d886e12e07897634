package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adapters"
	"github.com/openadcp/salesagent/internal/analytics"
	"github.com/openadcp/salesagent/internal/api"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/config"
	"github.com/openadcp/salesagent/internal/db"
	"github.com/openadcp/salesagent/internal/inventory"
	"github.com/openadcp/salesagent/internal/lifecycle"
	"github.com/openadcp/salesagent/internal/models"
	"github.com/openadcp/salesagent/internal/observability"
	"github.com/openadcp/salesagent/internal/registry"
	"github.com/openadcp/salesagent/internal/scheduler"
	"github.com/openadcp/salesagent/internal/webhooks"
	"github.com/openadcp/salesagent/internal/workflow"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLogger(cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			logger.Fatal("init tracing", zap.Error(err))
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("init postgres", zap.Error(err))
	}
	defer pg.Close()

	// Redis is a cache, not a dependency: without it the server just resolves
	// principals and format specs on every call.
	var redisStore *db.RedisStore
	var specCache registry.SpecCache
	var principalCache auth.PrincipalCache
	if rs, err := db.InitRedis(cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, running without caches", zap.Error(err))
	} else {
		redisStore = rs
		specCache = rs
		principalCache = rs
	}
	defer redisStore.Close()

	var clickhouse *analytics.Delivery
	var delivery analytics.DeliveryService
	if cfg.ClickHouseDSN == "" {
		logger.Info("no clickhouse DSN, using in-memory delivery store")
		delivery = analytics.NewMockDelivery()
	} else if ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN); err != nil {
		logger.Warn("clickhouse unavailable, using in-memory delivery store", zap.Error(err))
		delivery = analytics.NewMockDelivery()
	} else {
		clickhouse = ch
		delivery = ch
	}

	metrics := observability.NewPrometheusRegistry()

	adServers := map[string]adapters.Adapter{
		models.AdServerMock: adapters.NewMockAdapter(),
		models.AdServerGAM: adapters.NewGAMAdapter(adapters.GAMConfig{
			BaseURL:     os.Getenv("GAM_BASE_URL"),
			NetworkCode: os.Getenv("GAM_NETWORK_CODE"),
			AccessToken: os.Getenv("GAM_ACCESS_TOKEN"),
			Timeout:     cfg.AdapterTimeout,
		}),
		models.AdServerKevel: adapters.NewKevelAdapter(adapters.KevelConfig{
			BaseURL:   os.Getenv("KEVEL_BASE_URL"),
			APIKey:    os.Getenv("KEVEL_API_KEY"),
			NetworkID: os.Getenv("KEVEL_NETWORK_ID"),
			Timeout:   cfg.AdapterTimeout,
		}),
		models.AdServerTriton: adapters.NewTritonAdapter(adapters.TritonConfig{
			BaseURL: os.Getenv("TRITON_BASE_URL"),
			APIKey:  os.Getenv("TRITON_API_KEY"),
			Timeout: cfg.AdapterTimeout,
		}),
	}
	guards := make(map[string]*adapters.Guard, len(adServers))
	for name := range adServers {
		guards[name] = adapters.NewGuard(name, cfg.AdapterTimeout, metrics)
	}

	formats := registry.NewRegistry(specCache, cfg.CreativeAgentURL, cfg.CreativeAgentTimeout, cfg.FormatCacheTTL)

	resolver := &auth.Resolver{
		Store:          pg,
		Cache:          principalCache,
		TestingEnabled: cfg.Testing,
	}

	engine := &lifecycle.Engine{
		Store:    pg,
		Formats:  formats,
		Adapters: adServers,
		Guards:   guards,
		Delivery: delivery,
		Metrics:  metrics,
	}

	inv := &inventory.Engine{
		Store:         pg,
		Adapters:      adServers,
		Metrics:       metrics,
		CommitTimeout: cfg.SyncCommitTimeout,
		TypeTimeout:   cfg.AdapterTimeout,
	}

	tasks := &workflow.Service{
		Store:   pg,
		Metrics: metrics,
	}

	sender := webhooks.NewSender(cfg.WebhookSendTimeout, []byte(cfg.WebhookSigningSecret))

	statusSched := &scheduler.StatusScheduler{
		Store:    pg,
		Metrics:  metrics,
		Interval: cfg.StatusCheckInterval,
	}
	if err := statusSched.Start(); err != nil {
		logger.Fatal("start status scheduler", zap.Error(err))
	}
	defer statusSched.Stop()

	webhookSched := &scheduler.WebhookScheduler{
		Store:    pg,
		Reporter: engine,
		Sender:   sender,
		Metrics:  metrics,
		Interval: cfg.DeliveryWebhookInterval,
	}
	if err := webhookSched.Start(); err != nil {
		logger.Fatal("start webhook scheduler", zap.Error(err))
	}
	defer webhookSched.Stop()

	mcpServer := api.NewMCPServer(resolver, engine, inv, tasks, metrics, cfg.UnifiedMode)
	srv := api.NewServer(cfg, pg, mcpServer.Handler(), inv, webhookSched, delivery)
	srv.StatusSched = statusSched
	srv.DBStats = pg.DB.Stats
	srv.Health = map[string]func(context.Context) error{
		"postgres": pg.DB.PingContext,
	}
	if redisStore != nil {
		srv.Health["redis"] = func(ctx context.Context) error {
			return redisStore.Client.Ping(ctx).Err()
		}
	}
	if clickhouse != nil {
		srv.Health["clickhouse"] = clickhouse.DB.PingContext
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", httpServer.Addr),
			zap.Bool("unified_mode", cfg.UnifiedMode),
			zap.Bool("testing", cfg.Testing),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
