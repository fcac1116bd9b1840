package scope

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/smartvillage/gatekeeper/internal/platform/httpx"
	"github.com/smartvillage/gatekeeper/internal/shared"
)

// Handler exposes village assignment administration as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/assignments", h.assign)
	r.Get("/users/{userID}/assignments", h.listByPrincipal)
	r.Get("/villages/{villageID}/assignments", h.listByVillage)
	r.Post("/assignments/{assignmentID}/activate", h.activate)
	r.Post("/assignments/{assignmentID}/deactivate", h.deactivate)
	r.Post("/assignments/{assignmentID}/primary", h.setPrimary)
	r.Put("/assignments/{assignmentID}/capabilities", h.updateCapabilities)
}

type assignRequest struct {
	UserID         string       `json:"user_id" validate:"required,uuid"`
	VillageID      string       `json:"village_id" validate:"required,uuid"`
	AssignmentType string       `json:"assignment_type" validate:"omitempty,oneof=manual invitation bulk"`
	Capabilities   Capabilities `json:"permissions"`
	IsPrimary      bool         `json:"is_primary"`
}

type assignmentResponse struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	VillageID      string       `json:"village_id"`
	AssignedBy     string       `json:"assigned_by"`
	AssignmentType string       `json:"assignment_type"`
	Permissions    Capabilities `json:"permissions"`
	IsActive       bool         `json:"is_active"`
	IsPrimary      bool         `json:"is_primary"`
	AssignedAt     time.Time    `json:"assigned_at"`
	ActivatedAt    *time.Time   `json:"activated_at"`
	DeactivatedAt  *time.Time   `json:"deactivated_at"`
}

func toAssignmentResponse(a Assignment) assignmentResponse {
	return assignmentResponse{
		ID:             a.ID.String(),
		UserID:         a.PrincipalID.String(),
		VillageID:      a.VillageID.String(),
		AssignedBy:     a.AssignedBy.String(),
		AssignmentType: a.AssignmentType,
		Permissions:    a.CapabilitySummary(),
		IsActive:       a.IsActive,
		IsPrimary:      a.IsPrimary,
		AssignedAt:     a.AssignedAt,
		ActivatedAt:    a.ActivatedAt,
		DeactivatedAt:  a.DeactivatedAt,
	}
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	userID, _ := uuid.Parse(req.UserID)
	villageID, _ := uuid.Parse(req.VillageID)

	a, err := h.service.Assign(r.Context(), AssignInput{
		PrincipalID:    userID,
		VillageID:      villageID,
		AssignedBy:     actor.ID,
		AssignmentType: req.AssignmentType,
		Capabilities:   req.Capabilities,
		IsPrimary:      req.IsPrimary,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"assignment": toAssignmentResponse(a)})
}

func (h *Handler) listByPrincipal(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	activeOnly := r.URL.Query().Get("status") != "all"
	assignments, err := h.service.ListByPrincipal(r.Context(), userID, activeOnly)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondList(w, assignments)
}

func (h *Handler) listByVillage(w http.ResponseWriter, r *http.Request) {
	villageID, err := uuid.Parse(chi.URLParam(r, "villageID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid village id")
		return
	}
	activeOnly := r.URL.Query().Get("status") != "all"
	assignments, err := h.service.ListByVillage(r.Context(), villageID, activeOnly)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondList(w, assignments)
}

func (h *Handler) respondList(w http.ResponseWriter, assignments []Assignment) {
	out := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, toAssignmentResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": out})
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.mutateByID(w, r, h.service.Activate)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.mutateByID(w, r, h.service.Deactivate)
}

func (h *Handler) setPrimary(w http.ResponseWriter, r *http.Request) {
	h.mutateByID(w, r, h.service.SetPrimary)
}

func (h *Handler) mutateByID(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error) {
	id, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid assignment id")
		return
	}
	if err := op(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateCapabilities(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid assignment id")
		return
	}
	var caps Capabilities
	if err := httpx.DecodeJSON(r, &caps); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.service.UpdateCapabilities(r.Context(), id, caps); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNoAssignment) {
		httpx.ProblemCode(w, http.StatusNotFound, "Not Found", err.Error(), "NO_VILLAGE_ASSIGNMENT")
		return
	}
	if h.logger != nil {
		h.logger.Error("scope handler", slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
