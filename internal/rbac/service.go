package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrSystemRole indicates an attempt to delete a system role.
var ErrSystemRole = errors.New("rbac: system roles cannot be deleted")

// RepositoryPort defines data access methods for roles and permissions.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string, isSystemRole bool) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, name, description string) (Permission, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	AssignRole(ctx context.Context, principalID uuid.UUID, roleID int64) error
	RemoveRole(ctx context.Context, principalID uuid.UUID, roleID int64) error
	EffectivePermissions(ctx context.Context, principalID uuid.UUID) ([]string, error)
	RoleNames(ctx context.Context, principalID uuid.UUID) ([]string, error)
}

// Service resolves effective permissions and manages role membership.
type Service struct {
	repo RepositoryPort
}

// NewService constructs a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// EffectivePermissions computes the union of permission names across
// all roles held by the principal. Pure read; role membership can
// change between requests, so callers must not cache the result beyond
// a single request.
//
// The superadmin role is deliberately not expanded to "all
// permissions" here. The bypass is role-name based and belongs to the
// gateway; this layer reports only what the role bundles actually
// grant.
func (s *Service) EffectivePermissions(ctx context.Context, principalID uuid.UUID) (PermissionSet, error) {
	names, err := s.repo.EffectivePermissions(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(names), nil
}

// RoleNames returns the role names held by a principal.
func (s *Service) RoleNames(ctx context.Context, principalID uuid.UUID) ([]string, error) {
	return s.repo.RoleNames(ctx, principalID)
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// CreateRole inserts a new role after validating its name.
func (s *Service) CreateRole(ctx context.Context, name, description string, isSystemRole bool) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(description), isSystemRole)
}

// DeleteRole removes a role. System roles are refused.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return ErrSystemRole
	}
	return s.repo.DeleteRole(ctx, id)
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// EnsurePermission upserts a permission after validating its name
// against the <resource>.<action> convention.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if _, _, err := SplitPermission(name); err != nil {
		return Permission{}, err
	}
	return s.repo.EnsurePermission(ctx, name, strings.TrimSpace(description))
}

// SetRolePermissions replaces the permission membership of a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.repo.SetRolePermissions(ctx, roleID, permissionIDs)
}

// AssignRole links a principal to a role.
func (s *Service) AssignRole(ctx context.Context, principalID uuid.UUID, roleID int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.repo.AssignRole(ctx, principalID, roleID)
}

// RemoveRole unlinks a principal from a role.
func (s *Service) RemoveRole(ctx context.Context, principalID uuid.UUID, roleID int64) error {
	return s.repo.RemoveRole(ctx, principalID, roleID)
}
