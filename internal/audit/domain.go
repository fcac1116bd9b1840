package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable authorization decision record. The sink is
// append-only; entries are never mutated or deleted here. Retention is
// an external concern.
type Entry struct {
	ID        int64
	Timestamp time.Time

	ActorID   *uuid.UUID
	ActorName string

	Action   string
	Resource string
	TargetID string

	// Decision is the gateway reason that terminated the check.
	Decision string
	Allowed  bool

	// OverrideGrantID is set when an emergency grant decided the
	// request.
	OverrideGrantID *uuid.UUID

	DurationMS float64
	ClientIP   string
	UserAgent  string
}

// TimelineFilters narrows timeline queries.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Resource string
	Action   string
	Decision string
	Page     int
	PageSize int
}

// PagingInfo holds simple pagination metadata for the timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page"`
	NextPage int  `json:"next_page"`
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}
