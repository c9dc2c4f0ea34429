package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/phigate/internal/alert"
	"github.com/org/phigate/internal/audit"
	"github.com/org/phigate/internal/auth"
	"github.com/org/phigate/internal/config"
	"github.com/org/phigate/internal/crypto"
	"github.com/org/phigate/internal/csrf"
	"github.com/org/phigate/internal/gateway"
	"github.com/org/phigate/internal/policy"
	"github.com/org/phigate/internal/ratelimit"
	"github.com/org/phigate/internal/storage"
	"github.com/rs/zerolog/log"
)

// Server is the API server.
type Server struct {
	store    storage.Store
	policies *policy.Registry
	gateway  *gateway.Gateway
	sessions *auth.SessionService
	csrf     *csrf.Issuer
	limiter  *ratelimit.Limiter
	auditor  *audit.Writer
	cfg      *config.Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Store, cfg *config.Config) (*Server, error) {
	masters, err := cfg.FieldKeys()
	if err != nil {
		return nil, err
	}
	keyring, err := crypto.NewKeyring(masters, cfg.FieldKeyActive)
	if err != nil {
		return nil, err
	}
	engine := crypto.NewEngine(keyring)

	policies := policy.NewRegistry()
	if cfg.PolicyFile != "" {
		if err := policies.LoadFile(cfg.PolicyFile); err != nil {
			return nil, fmt.Errorf("loading policy file: %w", err)
		}
	}
	policies.Seal()

	var alerts alert.Notifier = alert.LogNotifier{}
	if cfg.AlertWebhookURL != "" {
		alerts = alert.Multi{alert.LogNotifier{}, alert.NewWebhookNotifier(cfg.AlertWebhookURL)}
	}
	auditor, err := audit.NewWriter(context.Background(), store, alerts)
	if err != nil {
		return nil, fmt.Errorf("initializing audit writer: %w", err)
	}

	rules, defaultRule, err := cfg.RateLimitRules()
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(ratelimit.NewMemoryWindowStore(), rules, defaultRule)

	return &Server{
		store:    store,
		policies: policies,
		gateway:  gateway.New(store, policies, engine, auditor),
		sessions: auth.NewSessionService(store, []byte(cfg.SessionSigningSecret), cfg.SessionTTL),
		csrf:     csrf.NewIssuer([]byte(cfg.CSRFSigningSecret), cfg.CSRFTokenTTL),
		limiter:  limiter,
		auditor:  auditor,
		cfg:      cfg,
	}, nil
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.With(s.rateLimitMiddleware("session_issue")).
			Post("/v1/auth/session", s.SessionIssueHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.csrfMiddleware)

		r.Delete("/v1/auth/session", s.SessionRevokeHandler)
		r.Get("/v1/session/csrf", s.CSRFIssueHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware("data_read"))
			r.Get("/v1/data/{entity}", s.DataListHandler)
			r.Get("/v1/data/{entity}/{id}", s.DataGetHandler)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware("data_write"))
			r.Post("/v1/data/{entity}", s.DataCreateHandler)
			r.Patch("/v1/data/{entity}/{id}", s.DataUpdateHandler)
			r.Delete("/v1/data/{entity}/{id}", s.DataDeleteHandler)
		})

		// Admin
		r.Get("/v1/sys/audit-log", s.AuditLogHandler)
		r.Get("/v1/sys/audit-log/verify", s.AuditVerifyHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
