package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kdebug/internal/auth"
	"github.com/wisbric/kdebug/internal/config"
)

// Server holds the HTTP server dependencies and exposes mount points for
// each component's routes (spec.md §4.8 Request Frontend).
type Server struct {
	Router *chi.Mux

	// DebugRouter mounts /debug/* client endpoints, authenticated.
	DebugRouter chi.Router
	// ExecutorRouter mounts /executor/* endpoints, authenticated as executor
	// (executor auth is enforced per-handler, not by this router's
	// middleware stack, since it authenticates against a claimed cluster_id
	// rather than the generic api_key/bearer precedence).
	ExecutorRouter chi.Router
	// AdminRouter mounts /admin/* endpoints (/admin/agents/* and
	// /admin/clusters/*), authenticated.
	AdminRouter chi.Router

	Logger    *slog.Logger
	Keystore  *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// authDiscovery describes which authentication methods are configured,
// served unauthenticated at the well-known discovery path (spec.md §4.2,
// §6).
type authDiscovery struct {
	APIKey bool `json:"api_key"`
	Bearer bool `json:"bearer"`
}

// NewServer wires the chi router, global middleware, health/discovery
// endpoints, and the three authenticated sub-routers that domain handlers
// (pkg/debugapi, pkg/executorchan, pkg/admin) mount onto.
func NewServer(cfg *config.Config, logger *slog.Logger, rdb *redis.Client, metricsReg *prometheus.Registry, apiKeys *auth.APIKeyStore, bearer *auth.BearerAuthenticator, audit *auth.AuditWriter) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		Keystore:  rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Api-Key", "X-Request-ID", "X-Correlation-Id", "X-Service-Identity", "X-Cluster-Id"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Open endpoints (spec.md §6): health probes and auth discovery.
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/.well-known/auth-config", func(w http.ResponseWriter, r *http.Request) {
		Respond(w, http.StatusOK, authDiscovery{
			APIKey: apiKeys != nil && !apiKeys.Empty(),
			Bearer: bearer != nil,
		})
	})

	exemptPaths := map[string]bool{
		"/healthz":                 true,
		"/health":                  true,
		"/.well-known/auth-config": true,
	}

	// Authenticated /metrics (spec.md §4.8: "a metrics probe (authenticated, minimal)").
	s.Router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(apiKeys, bearer, audit, logger, exemptPaths))
		r.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

		r.Route("/debug", func(dr chi.Router) {
			s.DebugRouter = dr
		})
		r.Route("/admin", func(ar chi.Router) {
			s.AdminRouter = ar
		})
	})

	// The executor channel authenticates itself (executor bearer against a
	// claimed cluster_id), not via the generic caller middleware, so it is
	// mounted outside that middleware group.
	s.Router.Route("/executor", func(er chi.Router) {
		s.ExecutorRouter = er
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := time.Since(s.startedAt)

	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(uptime.Seconds()),
	}

	if err := s.Keystore.Ping(ctx).Err(); err != nil {
		s.Logger.Error("health check: keystore ping failed", "error", err)
		resp["status"] = "degraded"
		resp["keystore"] = "error"
		Respond(w, http.StatusOK, resp)
		return
	}
	resp["keystore"] = "ok"
	Respond(w, http.StatusOK, resp)
}
