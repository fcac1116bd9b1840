package rbac

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBadPermissionName indicates a permission name that does not
// follow the <resource>.<action> convention.
var ErrBadPermissionName = errors.New("rbac: permission name must be <resource>.<action>")

// Role represents a named bundle of permissions.
type Role struct {
	ID           int64
	Name         string
	Description  string
	IsSystemRole bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Permission represents an atomic capability named <resource>.<action>.
// Immutable once referenced.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// PermissionSet is the deduplicated effective permission set of a
// principal.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from permission names.
func NewPermissionSet(names []string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the named permission.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the set contents as a slice, order unspecified.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	return names
}

// SplitPermission decomposes a permission name into its resource and
// action parts. Override matching depends on this naming convention,
// so names without exactly one separator are rejected rather than
// guessed at.
func SplitPermission(name string) (resource, action string, err error) {
	parts := strings.Split(name, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadPermissionName, name)
	}
	return parts[0], parts[1], nil
}
