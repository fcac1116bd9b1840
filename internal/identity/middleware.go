package identity

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/smartvillage/gatekeeper/internal/platform/httpx"
	"github.com/smartvillage/gatekeeper/internal/shared"
)

// Middleware resolves bearer tokens into principals. The principal and
// client origin land in the request context for downstream handlers;
// requests without a valid token proceed anonymously and are rejected
// later by route guards that need one.
type Middleware struct {
	logger  *slog.Logger
	tokens  *TokenIssuer
	service *Service
}

// NewMiddleware constructs the authentication middleware.
func NewMiddleware(logger *slog.Logger, tokens *TokenIssuer, service *Service) *Middleware {
	return &Middleware{logger: logger, tokens: tokens, service: service}
}

// Handler attaches request metadata and, when a valid bearer token is
// present, the freshly loaded principal.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.ContextWithRequestMeta(r.Context(), shared.RequestMeta{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		})

		if raw := bearerToken(r); raw != "" {
			id, err := m.tokens.Verify(raw)
			if err != nil {
				httpx.ProblemCode(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token", "INVALID_TOKEN")
				return
			}
			principal, err := m.service.Lookup(ctx, id)
			if err != nil {
				m.logger.Warn("token subject lookup failed", slog.String("subject", id.String()), slog.Any("error", err))
				httpx.ProblemCode(w, http.StatusUnauthorized, "Unauthorized", "unknown account", "INVALID_TOKEN")
				return
			}
			ctx = shared.ContextWithPrincipal(ctx, principal)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// clientIP trusts chi's RealIP middleware to have rewritten RemoteAddr
// from forwarding headers already.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
