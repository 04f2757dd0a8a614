package authz

import (
	"context"
	"errors"
	"fmt"
)

// Resolution is a principal's effective permission set and group tags.
type Resolution struct {
	Permissions []Permission `json:"permissions"`
	Groups      []GroupTag   `json:"groups"`
}

// Resolver computes effective permissions for principals from their role and
// the permission catalog.
type Resolver struct {
	roles   RoleStore
	catalog *Catalog
}

// NewResolver constructs a Resolver.
func NewResolver(roles RoleStore, catalog *Catalog) (*Resolver, error) {
	if roles == nil {
		return nil, errors.New("authz: role store is required")
	}
	if catalog == nil {
		return nil, errors.New("authz: catalog is required")
	}
	return &Resolver{roles: roles, catalog: catalog}, nil
}

// ActorRole loads the principal's role. A missing role is an orphaned binding
// and is surfaced as ErrRoleNotFound, never as an empty permission set.
func (r *Resolver) ActorRole(ctx context.Context, p Principal) (*Role, error) {
	if p.RoleID == "" {
		return nil, fmt.Errorf("%w: principal has no role", ErrRoleNotFound)
	}
	role, err := r.roles.GetRole(ctx, p.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, p.RoleID)
		}
		return nil, err
	}
	return role, nil
}

// Resolve produces the principal's effective permissions and group tags.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (Resolution, error) {
	role, err := r.ActorRole(ctx, p)
	if err != nil {
		return Resolution{}, err
	}
	return r.ResolveRole(role)
}

// ResolveRole expands a role's group tags through the catalog.
func (r *Resolver) ResolveRole(role *Role) (Resolution, error) {
	perms, err := r.catalog.PermissionsFor(role.Groups)
	if err != nil {
		return Resolution{}, err
	}
	groups := make([]GroupTag, len(role.Groups))
	copy(groups, role.Groups)
	return Resolution{Permissions: perms, Groups: groups}, nil
}

// RoleFromToken answers lightweight session-refresh calls: scope level and
// group tags without the full role record.
func (r *Resolver) RoleFromToken(ctx context.Context, p Principal) (RoleSummary, error) {
	role, err := r.ActorRole(ctx, p)
	if err != nil {
		return RoleSummary{}, err
	}
	groups := make([]GroupTag, len(role.Groups))
	copy(groups, role.Groups)
	return RoleSummary{RoleID: role.ID, Level: role.Level, Groups: groups}, nil
}

// HasPermission reports whether the principal's resolved permission set
// contains the permission.
func (r *Resolver) HasPermission(ctx context.Context, p Principal, perm Permission) (bool, error) {
	res, err := r.Resolve(ctx, p)
	if err != nil {
		return false, err
	}
	for _, have := range res.Permissions {
		if have == perm {
			return true, nil
		}
	}
	return false, nil
}
