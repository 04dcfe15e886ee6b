package app

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/coverdesk/coverdesk/internal/auth"
	"github.com/coverdesk/coverdesk/internal/config"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/internal/version"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Server bundles the router tree. Public routes (signup, login, webhooks,
// widget chat) mount on Router; APIRouter carries the authenticated,
// tenant-scoped /api/v1 surface.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	startedAt time.Time
}

// NewServer creates the HTTP server with middleware, health, and metrics
// endpoints. Domain handlers are mounted afterwards.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, sessions *auth.SessionManager, tenants *tenant.Service) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		startedAt: time.Now(),
	}

	s.Router.Use(httpserver.RequestID)
	s.Router.Use(httpserver.Logger(logger))
	s.Router.Use(httpserver.Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	// Authenticated, tenant-scoped API routes.
	s.Router.Route("/api/v1", func(r chi.Router) {
		// 1. Authenticate the session token.
		r.Use(auth.Middleware(sessions, logger))

		// 2. Bind the tenant scope from the authenticated identity,
		//    re-validating tenant status on every request.
		r.Use(tenant.Middleware(tenants, authContextResolver{}, logger))

		// 3. Reject anything unauthenticated.
		r.Use(auth.RequireAuth)

		r.Get("/status", s.handleStatus)

		s.APIRouter = r
	})

	return s
}

// authContextResolver connects authentication to tenant resolution without
// an import cycle: tenant sees an interface, auth provides the identity.
type authContextResolver struct{}

func (authContextResolver) Resolve(r *http.Request) (tenant.Identity, error) {
	id := auth.FromContext(r.Context())
	if id == nil {
		return tenant.Identity{}, fmt.Errorf("no authenticated identity")
	}
	return tenant.Identity{
		CallerID:     id.UserID,
		TenantID:     id.TenantID,
		IsSuperAdmin: id.IsSuperAdmin,
	}, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	CommitSHA       string  `json:"commit_sha"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Database        string  `json:"database"`
	DatabaseLatency float64 `json:"database_latency_ms"`
	Redis           string  `json:"redis"`
	RedisLatency    float64 `json:"redis_latency_ms"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := time.Since(s.startedAt)

	resp := statusResponse{
		Version:       version.Version,
		CommitSHA:     version.Commit,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
	}

	dbStart := time.Now()
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("status check: database ping failed", "error", err)
		resp.Database = "error"
	} else {
		resp.Database = "ok"
	}
	resp.DatabaseLatency = math.Round(float64(time.Since(dbStart).Microseconds())/10) / 100

	redisStart := time.Now()
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("status check: redis ping failed", "error", err)
		resp.Redis = "error"
	} else {
		resp.Redis = "ok"
	}
	resp.RedisLatency = math.Round(float64(time.Since(redisStart).Microseconds())/10) / 100

	if resp.Database == "ok" && resp.Redis == "ok" {
		resp.Status = "ok"
	} else {
		resp.Status = "degraded"
	}

	httpserver.Respond(w, http.StatusOK, resp)
}
