package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/coachplan/pkg/audit"
	"github.com/platinummonkey/coachplan/pkg/billing"
	"github.com/platinummonkey/coachplan/pkg/httputil"
	"github.com/platinummonkey/coachplan/pkg/middleware"
	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/plans"
)

const defaultMaxBodyBytes = 1 << 20

// PlanCatalog lists the plans offered to users
type PlanCatalog interface {
	ListActive(ctx context.Context) ([]plans.Plan, error)
}

// EntitlementResolver resolves the effective plan of an account
type EntitlementResolver interface {
	Resolve(ctx context.Context, accountID string) (*plans.Entitlement, error)
}

// LimitChecker checks and enforces resource ceilings
type LimitChecker interface {
	CheckLimit(ctx context.Context, accountID string, kind plans.ResourceKind) (*plans.LimitResult, error)
	Admit(ctx context.Context, accountID string, kind plans.ResourceKind) error
}

// PlanTransitions executes user-initiated plan changes
type PlanTransitions interface {
	Upgrade(ctx context.Context, req billing.UpgradeRequest) (*plans.Entitlement, error)
	Cancel(ctx context.Context, accountID string) (*plans.Entitlement, error)
}

// WebhookProcessor applies billing processor notifications
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, processor string, payload []byte, signatureHeader string) (billing.Outcome, error)
}

// PlanHistory reads the recorded plan changes of an account
type PlanHistory interface {
	History(ctx context.Context, accountID string, limit int) ([]audit.Event, error)
}

// Services are the engine components behind the HTTP surface
type Services struct {
	Catalog     PlanCatalog
	Resolver    EntitlementResolver
	Limits      LimitChecker
	Transitions PlanTransitions
	Webhooks    WebhookProcessor
	// History is optional; /plans/history is not registered without it
	History PlanHistory
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	// Verifier establishes the caller's account id; defaults to the X-Account-ID header
	Verifier middleware.IdentityVerifier
	// Limiter rate limits /plans routes when set
	Limiter      middleware.Limiter
	UpgradeURL   string
	MaxBodyBytes int64
	ServiceName  string
	Logger       *observability.Logger
	Metrics      *observability.Metrics
}

// Server is the plans HTTP API
type Server struct {
	router   *mux.Router
	handler  http.Handler
	services Services
	config   ServerConfig
	logger   *observability.Logger
}

// NewServer creates the API server and registers its routes
func NewServer(services Services, config ServerConfig) *Server {
	if config.Verifier == nil {
		config.Verifier = middleware.NewHeaderVerifier("")
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.UpgradeURL == "" {
		config.UpgradeURL = middleware.DefaultUpgradeURL
	}
	if config.ServiceName == "" {
		config.ServiceName = "coachplan"
	}

	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		logger:   config.Logger,
	}

	s.router.Use(observability.HTTPMetricsMiddleware(config.Metrics))
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(config.Logger),
		httputil.RecoveryMiddleware(config.Logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(config.MaxBodyBytes),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), config.ServiceName)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	public := s.rateLimited
	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.IdentityMiddleware(s.config.Verifier)(s.rateLimited(h))
	}

	s.router.Handle("/plans", public(http.HandlerFunc(s.listPlans))).Methods(http.MethodGet)
	s.router.Handle("/plans/user", authed(s.getUserPlan)).Methods(http.MethodGet)
	s.router.Handle("/plans/check-limit/{resource}", authed(s.checkLimit)).Methods(http.MethodGet)
	s.router.Handle("/plans/upgrade", authed(s.upgradePlan)).Methods(http.MethodPost)
	s.router.Handle("/plans/cancel", authed(s.cancelPlan)).Methods(http.MethodPost)
	if s.services.History != nil {
		s.router.Handle("/plans/history", authed(s.planHistory)).Methods(http.MethodGet)
	}

	// Processors authenticate with signatures, not caller identity, and retry on failure.
	s.router.HandleFunc("/plans/webhook/{processor}", s.handleWebhook).Methods(http.MethodPost)
}

func (s *Server) rateLimited(h http.Handler) http.Handler {
	if s.config.Limiter == nil {
		return h
	}
	return middleware.RateLimitMiddleware(s.config.Limiter, s.logger)(h)
}

// Router exposes the route table so callers can mount child-resource routes
// behind LimitGuard.
func (s *Server) Router() *mux.Router {
	return s.router
}

// LimitGuard wraps a child-resource creation handler with identity and the
// ceiling check for kind.
func (s *Server) LimitGuard(kind plans.ResourceKind, h http.Handler) http.Handler {
	return middleware.IdentityMiddleware(s.config.Verifier)(
		middleware.LimitMiddleware(s.services.Limits, kind, s.config.UpgradeURL)(h),
	)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
