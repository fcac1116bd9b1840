package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/smartvillage/gatekeeper/internal/platform/httpx"
	"github.com/smartvillage/gatekeeper/internal/shared"
)

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// Handler exposes login and session introspection endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	tokens   *TokenIssuer
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, tokens *TokenIssuer) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		tokens:   tokens,
		validate: validator.New(),
	}
}

// MountRoutes registers the auth endpoints. Login sits behind a
// per-client limiter so password guessing is throttled at the edge too,
// not just by the account lockout counter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(gr chi.Router) {
		gr.Use(httprate.LimitByIP(loginRateLimit, loginRateWindow))
		gr.Post("/auth/login", h.login)
	})
	r.Get("/auth/me", h.me)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type principalResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

func toPrincipalResponse(p *shared.Principal) principalResponse {
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	return principalResponse{
		ID:       p.ID.String(),
		Username: p.Username,
		Email:    p.Email,
		Roles:    roles,
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "username and password are required")
		return
	}

	principal, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, shared.ErrAccountLocked):
		httpx.ProblemCode(w, http.StatusForbidden, "Forbidden", "account temporarily locked", "ACCOUNT_LOCKED")
		return
	case errors.Is(err, shared.ErrInvalidCredentials):
		httpx.ProblemCode(w, http.StatusUnauthorized, "Unauthorized", "invalid username or password", "INVALID_CREDENTIALS")
		return
	case err != nil:
		h.logger.Error("login", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	token, expiresAt, err := h.tokens.Issue(principal.ID, principal.Username)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"user":       toPrincipalResponse(principal),
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.ProblemCode(w, http.StatusUnauthorized, "Unauthorized", "", "AUTH_REQUIRED")
		return
	}
	httpx.JSON(w, http.StatusOK, toPrincipalResponse(principal))
}
