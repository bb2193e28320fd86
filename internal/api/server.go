package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"agent-toolgate/internal/cache"
	"agent-toolgate/internal/config"
	"agent-toolgate/internal/monitor"
	"agent-toolgate/internal/policy"
	"agent-toolgate/internal/storage"
	"agent-toolgate/internal/validator"
)

// Server is the main HTTP server for the validation API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, v *validator.Validator, c *cache.Cache, db *storage.DB, policies policy.Source, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(v, c, db, policies, metrics)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured, all requests will be accepted")
	}

	// Validation API — wrapped with auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /validate", handlers.HandleValidate)
	apiMux.HandleFunc("GET /artifacts/{hash}", handlers.HandleGetArtifact)
	apiMux.HandleFunc("DELETE /artifacts/{hash}", handlers.HandleDeleteArtifact)
	apiMux.HandleFunc("POST /artifacts/{hash}/refs", handlers.HandleAddRef)
	apiMux.HandleFunc("DELETE /artifacts/{hash}/refs", handlers.HandleReleaseRef)
	apiMux.HandleFunc("GET /validations", handlers.HandleListValidations)
	apiMux.HandleFunc("GET /policy", handlers.HandleGetPolicy)

	authedAPI := AuthMiddleware(cfg.Security.AllowedKeys)(apiMux)

	// Top-level mux: health/metrics bypass auth, everything else goes through auth
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth(db, policies))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled — running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(db *storage.DB, policies policy.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := db == nil || db.Healthy(r.Context())
		pol := policies.Current()

		resp := HealthResponse{
			Status:        "ok",
			Database:      dbOK,
			CacheBackend:  s.cfg.Cache.Backend,
			PolicyID:      pol.PolicyID,
			PolicyVersion: pol.Version,
			Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		}

		if !dbOK {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
