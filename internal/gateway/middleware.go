package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smartvillage/gatekeeper/internal/platform/httpx"
	"github.com/smartvillage/gatekeeper/internal/shared"
)

// Require guards a route with a permission check. The village id is read
// from the villageID route param when present, so village-scoped routes
// get the scope rule for free; targetID narrows override matching the
// same way.
func (g *Gateway) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.ProblemCode(w, http.StatusUnauthorized, "Unauthorized", "", "AUTH_REQUIRED")
				return
			}

			in := Input{Principal: principal, Permission: permission}
			if raw := chi.URLParam(r, "villageID"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid village id")
					return
				}
				in.VillageID = &id
			}
			if raw := chi.URLParam(r, "targetID"); raw != "" {
				in.TargetID = raw
			}

			decision := g.Authorize(r.Context(), in)
			if decision.Allowed() {
				next.ServeHTTP(w, r)
				return
			}
			respondDenied(w, decision)
		})
	}
}

func respondDenied(w http.ResponseWriter, d Decision) {
	switch d.Reason {
	case ReasonLocked:
		httpx.ProblemCode(w, http.StatusForbidden, "Forbidden", "account temporarily locked", "ACCOUNT_LOCKED")
	case ReasonRateLimited:
		httpx.RateLimited(w, int(d.RetryAfter.Seconds())+1)
	case ReasonScopeDenied:
		httpx.ProblemCode(w, http.StatusForbidden, "Forbidden", "no active assignment for this village", "NO_VILLAGE_ASSIGNMENT")
	case ReasonUnavailable:
		httpx.ProblemCode(w, http.StatusServiceUnavailable, "Service Unavailable", "", "AUTHZ_UNAVAILABLE")
	default:
		httpx.ProblemCode(w, http.StatusForbidden, "Forbidden", "missing permission", "PERMISSION_DENIED")
	}
}
