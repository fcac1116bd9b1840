package audit

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/smartvillage/gatekeeper/internal/platform/httpx"
	"github.com/smartvillage/gatekeeper/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

// Handler exposes the audit timeline as JSON and CSV endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the timeline and export endpoints. The export
// walks the whole table, so it sits behind its own edge limiter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit", h.timeline)
	r.Group(func(gr chi.Router) {
		gr.Use(httprate.Limit(exportRateLimit, exportRateWindow,
			httprate.WithKeyFuncs(exportRateKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.RateLimited(w, int(exportRateWindow.Seconds()))
			}),
		))
		gr.Get("/audit/export.csv", h.exportCSV)
	})
}

func exportRateKey(r *http.Request) (string, error) {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		return "user:" + p.ID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type entryResponse struct {
	Timestamp       time.Time `json:"timestamp"`
	ActorID         *string   `json:"actor_id"`
	ActorName       string    `json:"actor_name"`
	Action          string    `json:"action"`
	Resource        string    `json:"resource"`
	TargetID        string    `json:"target_id,omitempty"`
	Decision        string    `json:"decision"`
	Allowed         bool      `json:"allowed"`
	OverrideGrantID *string   `json:"override_grant_id,omitempty"`
	DurationMS      float64   `json:"duration_ms"`
	ClientIP        string    `json:"client_ip,omitempty"`
	UserAgent       string    `json:"user_agent,omitempty"`
}

func toEntryResponse(e Entry) entryResponse {
	out := entryResponse{
		Timestamp:  e.Timestamp,
		ActorName:  e.ActorName,
		Action:     e.Action,
		Resource:   e.Resource,
		TargetID:   e.TargetID,
		Decision:   e.Decision,
		Allowed:    e.Allowed,
		DurationMS: e.DurationMS,
		ClientIP:   e.ClientIP,
		UserAgent:  e.UserAgent,
	}
	if e.ActorID != nil {
		s := e.ActorID.String()
		out.ActorID = &s
	}
	if e.OverrideGrantID != nil {
		s := e.OverrideGrantID.String()
		out.OverrideGrantID = &s
	}
	return out
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("audit timeline", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	rows := make([]entryResponse, 0, len(result.Rows))
	for _, e := range result.Rows {
		rows = append(rows, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": rows,
		"paging":  result.Paging,
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entries, err := h.service.Export(r.Context(), filters)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("audit export", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_export.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"timestamp", "actor", "action", "resource", "target_id", "decision", "allowed", "override_grant_id", "duration_ms", "client_ip"})
	for _, e := range entries {
		grantID := ""
		if e.OverrideGrantID != nil {
			grantID = e.OverrideGrantID.String()
		}
		_ = cw.Write([]string{
			e.Timestamp.Format(time.RFC3339),
			e.ActorName,
			e.Action,
			e.Resource,
			e.TargetID,
			e.Decision,
			strconv.FormatBool(e.Allowed),
			grantID,
			strconv.FormatFloat(e.DurationMS, 'f', 2, 64),
			e.ClientIP,
		})
	}
	cw.Flush()
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Actor:    q.Get("actor"),
		Resource: q.Get("resource"),
		Action:   q.Get("action"),
		Decision: q.Get("decision"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return TimelineFilters{}, fmt.Errorf("invalid from timestamp %q", raw)
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return TimelineFilters{}, fmt.Errorf("invalid to timestamp %q", raw)
		}
		filters.To = t
	}
	if raw := q.Get("page"); raw != "" {
		filters.Page, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("page_size"); raw != "" {
		filters.PageSize, _ = strconv.Atoi(raw)
	}
	return filters, nil
}
