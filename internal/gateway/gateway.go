// Package gateway is the single decision point for authorization. Every
// protected request funnels through Authorize, which evaluates account
// lockout, rate limiting, role bypass, permissions, emergency overrides
// and village scope in a fixed order, and records each terminal decision
// in the audit trail.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smartvillage/gatekeeper/internal/audit"
	"github.com/smartvillage/gatekeeper/internal/override"
	"github.com/smartvillage/gatekeeper/internal/ratelimit"
	"github.com/smartvillage/gatekeeper/internal/rbac"
	"github.com/smartvillage/gatekeeper/internal/shared"
)

// Effect is the outcome of an authorization check.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Reason identifies which rule produced the decision.
type Reason string

const (
	ReasonRoleBypass        Reason = "role_bypass"
	ReasonPermissionGranted Reason = "permission_granted"
	ReasonEmergencyOverride Reason = "emergency_override"
	ReasonPermissionDenied  Reason = "permission_denied"
	ReasonScopeDenied       Reason = "scope_denied"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonLocked            Reason = "locked"
	ReasonUnavailable       Reason = "unavailable"
)

// Decision is the result of evaluating a request against the rule chain.
type Decision struct {
	Effect  Effect
	Reason  Reason
	GrantID *uuid.UUID
	// RetryAfter is set only for rate limited denials.
	RetryAfter time.Duration
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Effect == EffectAllow
}

// PermissionSource yields the effective permission set of a principal.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, principalID uuid.UUID) (rbac.PermissionSet, error)
}

// ScopeChecker reports whether a principal has an active assignment to a
// village.
type ScopeChecker interface {
	HasScope(ctx context.Context, principal *shared.Principal, villageID uuid.UUID) (bool, error)
}

// OverrideMatcher finds a live emergency grant covering a resource,
// target and action, or nil when none applies.
type OverrideMatcher interface {
	Match(ctx context.Context, principalID uuid.UUID, resource, targetID, action string) (*override.Grant, error)
}

// DecisionCounter receives one call per terminal decision, for metrics.
type DecisionCounter interface {
	CountDecision(effect, reason string)
}

// Input carries the request facts Authorize evaluates.
type Input struct {
	Principal  *shared.Principal
	Permission string
	// VillageID scopes the check to one village; nil skips the scope rule.
	VillageID *uuid.UUID
	// TargetID narrows emergency override matching. Empty means the
	// village id (when present) is used as the target.
	TargetID string
}

// Gateway evaluates authorization decisions.
type Gateway struct {
	logger    *slog.Logger
	limiter   ratelimit.Limiter
	perms     PermissionSource
	scopes    ScopeChecker
	overrides OverrideMatcher
	recorder  audit.Recorder
	counter   DecisionCounter

	now func() time.Time
}

// New constructs a Gateway.
func New(logger *slog.Logger, limiter ratelimit.Limiter, perms PermissionSource, scopes ScopeChecker, overrides OverrideMatcher, recorder audit.Recorder) *Gateway {
	return &Gateway{
		logger:    logger,
		limiter:   limiter,
		perms:     perms,
		scopes:    scopes,
		overrides: overrides,
		recorder:  recorder,
		now:       time.Now,
	}
}

// SetMetrics attaches a decision counter. Optional.
func (g *Gateway) SetMetrics(c DecisionCounter) {
	g.counter = c
}

// Authorize runs the rule chain in order: lockout, rate limit, superadmin
// bypass, permission (falling back to an emergency override on a miss),
// village scope (same fallback), then allow. Any storage failure along
// the way denies the request rather than guessing.
func (g *Gateway) Authorize(ctx context.Context, in Input) Decision {
	started := g.now()
	p := in.Principal

	if p.Locked(started) {
		return g.finish(ctx, in, started, Decision{Effect: EffectDeny, Reason: ReasonLocked})
	}

	res, err := g.limiter.Allow(ctx, "authz:"+p.ID.String())
	if err != nil {
		return g.unavailable(ctx, in, started, "rate limiter", err)
	}
	if !res.OK {
		return g.finish(ctx, in, started, Decision{
			Effect:     EffectDeny,
			Reason:     ReasonRateLimited,
			RetryAfter: res.RetryAfter,
		})
	}

	if p.IsSuperadmin() {
		return g.finish(ctx, in, started, Decision{Effect: EffectAllow, Reason: ReasonRoleBypass})
	}

	resource, action, err := rbac.SplitPermission(in.Permission)
	if err != nil {
		return g.unavailable(ctx, in, started, "permission name", err)
	}
	targetID := in.TargetID
	if targetID == "" && in.VillageID != nil {
		targetID = in.VillageID.String()
	}

	set, err := g.perms.EffectivePermissions(ctx, p.ID)
	if err != nil {
		return g.unavailable(ctx, in, started, "permission lookup", err)
	}
	if !set.Has(in.Permission) {
		grant, err := g.overrides.Match(ctx, p.ID, resource, targetID, action)
		if err != nil {
			return g.unavailable(ctx, in, started, "override lookup", err)
		}
		if grant == nil {
			return g.finish(ctx, in, started, Decision{Effect: EffectDeny, Reason: ReasonPermissionDenied})
		}
		return g.finish(ctx, in, started, Decision{
			Effect:  EffectAllow,
			Reason:  ReasonEmergencyOverride,
			GrantID: &grant.ID,
		})
	}

	if in.VillageID != nil {
		ok, err := g.scopes.HasScope(ctx, p, *in.VillageID)
		if err != nil {
			return g.unavailable(ctx, in, started, "scope lookup", err)
		}
		if !ok {
			grant, err := g.overrides.Match(ctx, p.ID, resource, targetID, action)
			if err != nil {
				return g.unavailable(ctx, in, started, "override lookup", err)
			}
			if grant == nil {
				return g.finish(ctx, in, started, Decision{Effect: EffectDeny, Reason: ReasonScopeDenied})
			}
			return g.finish(ctx, in, started, Decision{
				Effect:  EffectAllow,
				Reason:  ReasonEmergencyOverride,
				GrantID: &grant.ID,
			})
		}
	}

	return g.finish(ctx, in, started, Decision{Effect: EffectAllow, Reason: ReasonPermissionGranted})
}

func (g *Gateway) unavailable(ctx context.Context, in Input, started time.Time, stage string, err error) Decision {
	if g.logger != nil {
		g.logger.Error("authorization backend failure",
			slog.String("stage", stage),
			slog.String("permission", in.Permission),
			slog.Any("error", err),
		)
	}
	return g.finish(ctx, in, started, Decision{Effect: EffectDeny, Reason: ReasonUnavailable})
}

func (g *Gateway) finish(ctx context.Context, in Input, started time.Time, d Decision) Decision {
	entry := audit.Entry{
		Timestamp:       started,
		Action:          in.Permission,
		Decision:        string(d.Reason),
		Allowed:         d.Allowed(),
		OverrideGrantID: d.GrantID,
		DurationMS:      float64(g.now().Sub(started)) / float64(time.Millisecond),
	}
	if p := in.Principal; p != nil {
		id := p.ID
		entry.ActorID = &id
		entry.ActorName = p.Username
	}
	if resource, _, err := rbac.SplitPermission(in.Permission); err == nil {
		entry.Resource = resource
	} else {
		entry.Resource = in.Permission
	}
	entry.TargetID = in.TargetID
	if entry.TargetID == "" && in.VillageID != nil {
		entry.TargetID = in.VillageID.String()
	}
	meta := shared.RequestMetaFromContext(ctx)
	entry.ClientIP = meta.IP
	entry.UserAgent = meta.UserAgent
	if err := g.recorder.Record(ctx, entry); err != nil && g.logger != nil {
		g.logger.Error("audit record failed", slog.Any("error", err))
	}
	if g.counter != nil {
		g.counter.CountDecision(string(d.Effect), string(d.Reason))
	}
	return d
}
