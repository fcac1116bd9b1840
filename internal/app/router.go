package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/smartvillage/gatekeeper/internal/audit"
	"github.com/smartvillage/gatekeeper/internal/gateway"
	"github.com/smartvillage/gatekeeper/internal/identity"
	"github.com/smartvillage/gatekeeper/internal/observability"
	"github.com/smartvillage/gatekeeper/internal/override"
	"github.com/smartvillage/gatekeeper/internal/rbac"
	"github.com/smartvillage/gatekeeper/internal/scope"
	"github.com/smartvillage/gatekeeper/internal/shared"
	"github.com/smartvillage/gatekeeper/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Auth            *identity.Middleware
	IdentityHandler *identity.Handler
	RBACHandler     *rbac.Handler
	ScopeHandler    *scope.Handler
	OverrideHandler *override.Handler
	AuditHandler    *audit.Handler
	JobHandler      *jobs.Handler
	Gateway         *gateway.Gateway
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults. Role
// and scope administration sit behind gateway guards; the emergency
// override surface enforces its own superadmin gate.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Auth:    params.Auth,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.IdentityHandler != nil {
		params.IdentityHandler.MountRoutes(r)
	}

	if params.RBACHandler != nil {
		r.Group(func(gr chi.Router) {
			gr.Use(params.Gateway.Require(shared.PermRolesEdit))
			params.RBACHandler.MountRoutes(gr)
		})
	}

	if params.ScopeHandler != nil {
		r.Group(func(gr chi.Router) {
			gr.Use(params.Gateway.Require(shared.PermUsersEdit))
			params.ScopeHandler.MountRoutes(gr)
		})
	}

	if params.AuditHandler != nil {
		r.Group(func(gr chi.Router) {
			gr.Use(params.Gateway.Require(shared.PermAuditView))
			params.AuditHandler.MountRoutes(gr)
		})
	}

	// Grant administration needs the emergency override permission on
	// top of the handler's own superadmin gate.
	if params.OverrideHandler != nil {
		r.Group(func(gr chi.Router) {
			gr.Use(params.Gateway.Require(shared.PermEmergencyOverride))
			params.OverrideHandler.MountRoutes(gr)
		})
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
