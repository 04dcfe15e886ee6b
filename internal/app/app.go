// Package app wires configuration, infrastructure, and domain packages into
// the two run modes: the API server and the background worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/auth"
	"github.com/coverdesk/coverdesk/internal/config"
	"github.com/coverdesk/coverdesk/internal/crypto"
	"github.com/coverdesk/coverdesk/internal/platform"
	"github.com/coverdesk/coverdesk/internal/telemetry"
	"github.com/coverdesk/coverdesk/pkg/ai"
	"github.com/coverdesk/coverdesk/pkg/automation"
	"github.com/coverdesk/coverdesk/pkg/campaign"
	"github.com/coverdesk/coverdesk/pkg/conversation"
	"github.com/coverdesk/coverdesk/pkg/credential"
	"github.com/coverdesk/coverdesk/pkg/label"
	"github.com/coverdesk/coverdesk/pkg/lead"
	"github.com/coverdesk/coverdesk/pkg/template"
	"github.com/coverdesk/coverdesk/pkg/tenant"
	"github.com/coverdesk/coverdesk/pkg/whatsapp"
	"github.com/coverdesk/coverdesk/pkg/widget"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting coverdesk",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	if cfg.EncryptionKey == "" {
		if !cfg.DevMode {
			return fmt.Errorf("COVERDESK_ENCRYPTION_KEY is required outside dev mode")
		}
		cfg.EncryptionKey = auth.GenerateDevSecret()
		logger.Warn("dev mode: generated ephemeral encryption key, stored secrets will not survive a restart")
	}
	cipher, err := crypto.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	deps := &dependencies{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    rdb,
		metrics:  metricsReg,
		resolver: credential.NewResolver(db, cipher),
		tenants:  tenant.NewService(db, logger),
	}
	deps.sender = whatsapp.NewClient(cfg.GraphAPIBaseURL, cfg.GraphAPITimeout, deps.resolver, logger)
	deps.engine = conversation.NewEngine(
		conversation.NewStore(db),
		lead.NewStore(db),
		deps.resolver,
		ai.NewOpenAI("", 0),
		map[string]conversation.Sender{conversation.PlatformWhatsApp: deps.sender},
		rdb,
		logger,
	)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, deps)
	case "worker":
		return runWorker(ctx, deps)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

type dependencies struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *pgxpool.Pool
	redis    *redis.Client
	metrics  *prometheus.Registry
	resolver *credential.Resolver
	tenants  *tenant.Service
	sender   *whatsapp.Client
	engine   *conversation.Engine
}

func runAPI(ctx context.Context, d *dependencies) error {
	cfg, logger := d.cfg, d.logger

	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		if !cfg.DevMode {
			return fmt.Errorf("COVERDESK_SESSION_SECRET is required outside dev mode")
		}
		sessionSecret = auth.GenerateDevSecret()
		logger.Warn("dev mode: generated ephemeral session secret")
	}
	sessions, err := auth.NewSessionManager(sessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("initializing session manager: %w", err)
	}

	widgetSecret := cfg.WidgetTokenSecret
	if widgetSecret == "" {
		if !cfg.DevMode {
			return fmt.Errorf("COVERDESK_WIDGET_TOKEN_SECRET is required outside dev mode")
		}
		widgetSecret = auth.GenerateDevSecret()
		logger.Warn("dev mode: generated ephemeral widget token secret")
	}
	widgetTokens, err := widget.NewTokenIssuer(widgetSecret, cfg.WidgetTokenTTL)
	if err != nil {
		return fmt.Errorf("initializing widget token issuer: %w", err)
	}

	// Audit log writer (async, buffered).
	auditWriter := audit.NewWriter(d.db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := NewServer(cfg, logger, d.db, d.redis, d.metrics, sessions, d.tenants)

	userStore := tenant.NewStore(d.db)
	leadStore := lead.NewStore(d.db)
	convStore := conversation.NewStore(d.db)
	templateStore := template.NewStore(d.db)
	campaignStore := campaign.NewStore(d.db)
	automationStore := automation.NewStore(d.db)

	// Public surface: signup, login, provider webhooks, widget chat.
	tenantHandler := tenant.NewHandler(d.tenants, logger, cfg.TrialDuration)
	srv.Router.Mount("/api/tenants", tenantHandler.PublicRoutes())
	srv.Router.Mount("/api/auth", auth.NewLoginHandler(sessions, userStore, d.tenants, logger).Routes())

	webhook := whatsapp.NewWebhook(d.resolver, d.tenants, d.engine, campaignStore, d.redis, logger)
	srv.Router.Mount("/webhooks/whatsapp", webhook.Routes())

	widgetHandler := widget.NewHandler(widgetTokens, d.tenants, d.engine, leadStore, logger)
	srv.Router.Mount("/api/widget", widgetHandler.PublicRoutes())

	// Authenticated, tenant-scoped surface.
	srv.APIRouter.Mount("/tenants", tenantHandler.Routes())
	srv.APIRouter.Mount("/credentials", credential.NewHandler(d.resolver, d.db, logger, auditWriter).Routes())
	srv.APIRouter.Mount("/leads", lead.NewHandler(leadStore, logger).Routes())
	srv.APIRouter.Mount("/templates", template.NewHandler(templateStore, logger, auditWriter).Routes())
	srv.APIRouter.Mount("/labels", label.NewHandler(label.NewStore(d.db), d.db, logger, auditWriter).Routes())
	srv.APIRouter.Mount("/conversations", conversation.NewHandler(convStore, d.engine, logger, auditWriter).Routes())
	srv.APIRouter.Mount("/campaigns", campaign.NewHandler(campaignStore, templateStore, logger, auditWriter).Routes())
	srv.APIRouter.Mount("/widget", widgetHandler.Routes())

	// MANUAL rules fire through the handler, so the API mode carries an
	// engine instance too; its Run loop only starts in worker mode.
	automationEngine := automation.NewEngine(automationStore, templateStore, d.sender, logger, cfg.AutomationPollInterval)
	srv.APIRouter.Mount("/automations", automation.NewHandler(automationStore, templateStore, convStore, automationEngine, logger, auditWriter).Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, d *dependencies) error {
	cfg, logger := d.cfg, d.logger

	templateStore := template.NewStore(d.db)
	campaignStore := campaign.NewStore(d.db)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return automation.NewEngine(automation.NewStore(d.db), templateStore, d.sender, logger, cfg.AutomationPollInterval).Run(gctx)
	})
	g.Go(func() error {
		return campaign.NewDispatcher(campaignStore, templateStore, d.sender, logger, cfg.CampaignPollInterval).Run(gctx)
	})
	g.Go(func() error {
		return campaign.NewPromoter(campaignStore, logger, cfg.SchedulePollInterval).Run(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
