package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Engine       Engine
	Authenticate func(http.Handler) http.Handler
	Metrics      *observability.Metrics
	Ready        http.HandlerFunc
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/health", observability.HandleHealth())
	ready := deps.Ready
	if ready == nil {
		ready = observability.HandleReady(observability.ReadinessChecks{})
	}
	r.Get("/ready", ready)
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)

		r.Post("/triage/classifications", handleSubmitClassification(deps.Engine))
		r.Get("/triage/cases", handleListCases(deps.Engine))
		r.Get("/triage/cases/{caseId}", handleGetCase(deps.Engine))
		r.Get("/triage/cases/{caseId}/events", handleCaseEvents(deps.Engine))
		r.Post("/triage/cases/{caseId}/reopen", handleLifecycle(deps.Engine.Reopen))
		r.Post("/triage/cases/{caseId}/resolve", handleLifecycle(deps.Engine.Resolve))
		r.Post("/triage/cases/{caseId}/close", handleLifecycle(deps.Engine.Close))
	})

	return r
}
