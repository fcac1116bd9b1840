package override

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/smartvillage/gatekeeper/internal/platform/httpx"
	"github.com/smartvillage/gatekeeper/internal/shared"
)

const adminRateLimit = 30

// Handler exposes grant administration as JSON endpoints. Every route
// is superadmin-only; the gateway middleware has already required the
// audit.emergency_override permission by the time requests land here,
// and the role is double-checked per request.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers grant administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(adminRateLimit, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.RateLimited(w, 60)
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/emergency-override", h.create)
		gr.Get("/emergency-overrides", h.list)
		gr.Get("/emergency-overrides/{grantID}", h.get)
		gr.Post("/emergency-overrides/{grantID}/revoke", h.revoke)
		gr.Post("/emergency-overrides/{grantID}/extend", h.extend)
		gr.Get("/emergency-overrides/history", h.history)
		gr.Get("/emergency-overrides/statistics", h.statistics)
		gr.Post("/emergency-overrides/cleanup", h.cleanup)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		return "user:" + p.ID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type createRequest struct {
	TargetResource string  `json:"target_resource" validate:"required,max=50"`
	Action         string  `json:"action" validate:"required,max=100"`
	Reason         string  `json:"reason" validate:"required,min=10"`
	TargetID       *string `json:"target_id"`
	ExpiresInHours float64 `json:"expires_in_hours"`
}

type extendRequest struct {
	Hours float64 `json:"hours" validate:"required,gt=0"`
}

type grantResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	TargetResource     string     `json:"target_resource"`
	TargetID           *string    `json:"target_id"`
	Action             string     `json:"action"`
	Reason             string     `json:"reason"`
	OriginalPermission string     `json:"original_permission,omitempty"`
	RequiresApproval   bool       `json:"requires_approval"`
	ApprovedBy         *string    `json:"approved_by"`
	ApprovedAt         *time.Time `json:"approved_at"`
	IsActive           bool       `json:"is_active"`
	IsExpired          bool       `json:"is_expired"`
	IsValid            bool       `json:"is_valid"`
	ExpiresAt          time.Time  `json:"expires_at"`
	TimeRemaining      int        `json:"time_remaining"`
	DurationMinutes    int        `json:"duration_minutes"`
	CreatedAt          time.Time  `json:"created_at"`
	IPAddress          string     `json:"ip_address,omitempty"`
	UserAgent          string     `json:"user_agent,omitempty"`
}

func toGrantResponse(g Grant, now time.Time) grantResponse {
	var approvedBy *string
	if g.ApprovedBy != nil {
		s := g.ApprovedBy.String()
		approvedBy = &s
	}
	return grantResponse{
		ID:                 g.ID.String(),
		UserID:             g.PrincipalID.String(),
		TargetResource:     g.TargetResource,
		TargetID:           g.TargetID,
		Action:             g.Action,
		Reason:             g.Reason,
		OriginalPermission: g.OriginalPermission,
		RequiresApproval:   g.RequiresApproval,
		ApprovedBy:         approvedBy,
		ApprovedAt:         g.ApprovedAt,
		IsActive:           g.IsActive,
		IsExpired:          g.Expired(now),
		IsValid:            g.Valid(now),
		ExpiresAt:          g.ExpiresAt,
		TimeRemaining:      g.TimeRemaining(now),
		DurationMinutes:    g.DurationMinutes(),
		CreatedAt:          g.CreatedAt,
		IPAddress:          g.IPAddress,
		UserAgent:          g.UserAgent,
	}
}

func (h *Handler) requireSuperadmin(w http.ResponseWriter, r *http.Request) *shared.Principal {
	p := shared.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return nil
	}
	if !p.IsSuperadmin() {
		httpx.ProblemCode(w, http.StatusForbidden, "Forbidden",
			"only superadmin may administer emergency overrides", "INSUFFICIENT_ROLE")
		return nil
	}
	return p
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p := h.requireSuperadmin(w, r)
	if p == nil {
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	meta := shared.RequestMetaFromContext(r.Context())
	g, err := h.service.Create(r.Context(), CreateInput{
		PrincipalID:    p.ID,
		TargetResource: req.TargetResource,
		TargetID:       req.TargetID,
		Action:         req.Action,
		Reason:         req.Reason,
		ValidityHours:  req.ExpiresInHours,
		IPAddress:      meta.IP,
		UserAgent:      meta.UserAgent,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"override": toGrantResponse(g, time.Now().UTC()),
		"message":  "Emergency override created successfully",
		"warning":  "This override will expire automatically. Use responsibly.",
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if h.requireSuperadmin(w, r) == nil {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		Status:   q.Get("status"),
		Resource: q.Get("resource"),
		Page:     atoiDefault(q.Get("page"), 1),
		PerPage:  atoiDefault(q.Get("per_page"), 20),
	}
	if filter.Status == "" {
		filter.Status = "active"
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user_id")
			return
		}
		filter.PrincipalID = &id
	}
	grants, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	now := time.Now().UTC()
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g, now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"overrides":  out,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	if h.requireSuperadmin(w, r) == nil {
		return
	}
	id, ok := h.parseGrantID(w, r)
	if !ok {
		return
	}
	g, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"override": toGrantResponse(g, time.Now().UTC())})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	p := h.requireSuperadmin(w, r)
	if p == nil {
		return
	}
	id, ok := h.parseGrantID(w, r)
	if !ok {
		return
	}
	if err := h.service.Revoke(r.Context(), id, p.ID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Emergency override revoked"})
}

func (h *Handler) extend(w http.ResponseWriter, r *http.Request) {
	p := h.requireSuperadmin(w, r)
	if p == nil {
		return
	}
	id, ok := h.parseGrantID(w, r)
	if !ok {
		return
	}
	var req extendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	g, err := h.service.Extend(r.Context(), id, req.Hours, p.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"override": toGrantResponse(g, time.Now().UTC())})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if h.requireSuperadmin(w, r) == nil {
		return
	}
	q := r.URL.Query()
	var principalID *uuid.UUID
	if raw := q.Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user_id")
			return
		}
		principalID = &id
	}
	grants, err := h.service.History(r.Context(), principalID, q.Get("resource"), atoiDefault(q.Get("days"), DefaultHistoryDays))
	if err != nil {
		h.respondError(w, err)
		return
	}
	now := time.Now().UTC()
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g, now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": out})
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	if h.requireSuperadmin(w, r) == nil {
		return
	}
	stats, err := h.service.Statistics(r.Context(), atoiDefault(r.URL.Query().Get("days"), DefaultHistoryDays))
	if err != nil {
		h.respondError(w, err)
		return
	}
	resources := make([]map[string]any, 0, len(stats.ByResource))
	for _, rc := range stats.ByResource {
		resources = append(resources, map[string]any{"resource": rc.Resource, "count": rc.Count})
	}
	principals := make([]map[string]any, 0, len(stats.ByPrincipal))
	for _, pc := range stats.ByPrincipal {
		principals = append(principals, map[string]any{"user_id": pc.PrincipalID.String(), "count": pc.Count})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total_overrides":    stats.TotalGrants,
		"active_overrides":   stats.ActiveGrants,
		"resource_breakdown": resources,
		"user_breakdown":     principals,
	})
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	if h.requireSuperadmin(w, r) == nil {
		return
	}
	count, err := h.service.Sweep(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deactivated": count})
}

func (h *Handler) parseGrantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "grantID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid grant id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrGrantNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrGrantAlreadyInvalid):
		httpx.ProblemCode(w, http.StatusConflict, "Conflict", err.Error(), "GRANT_ALREADY_INVALID")
	case errors.Is(err, ErrValidityOutOfBounds), errors.Is(err, ErrReasonTooShort):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("override handler", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func atoiDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
