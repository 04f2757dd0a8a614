package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CreateRoleRequest carries the fields for a new role definition.
type CreateRoleRequest struct {
	Name    string      `json:"role_name"`
	Groups  []GroupTag  `json:"groups"`
	Level   EntityLevel `json:"scope_level"`
	Lineage Lineage     `json:"lineage"`
}

// UpdateRoleRequest patches name and groups. A non-nil Level is rejected with
// ErrImmutableField.
type UpdateRoleRequest struct {
	Name   *string      `json:"role_name,omitempty"`
	Groups []GroupTag   `json:"groups,omitempty"`
	Level  *EntityLevel `json:"scope_level,omitempty"`
}

// RoleService implements role CRUD scoped to the organizational hierarchy.
type RoleService struct {
	store    RoleStore
	catalog  *Catalog
	resolver *Resolver
}

// NewRoleService constructs a RoleService.
func NewRoleService(store RoleStore, catalog *Catalog, resolver *Resolver) (*RoleService, error) {
	if store == nil {
		return nil, errors.New("authz: role store is required")
	}
	if catalog == nil {
		return nil, errors.New("authz: catalog is required")
	}
	if resolver == nil {
		return nil, errors.New("authz: resolver is required")
	}
	return &RoleService{store: store, catalog: catalog, resolver: resolver}, nil
}

func (s *RoleService) validateGroups(tags []GroupTag) ([]GroupTag, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: at least one permission group is required", ErrInvalidInput)
	}
	seen := make(map[GroupTag]struct{}, len(tags))
	out := make([]GroupTag, 0, len(tags))
	for _, tag := range tags {
		if !s.catalog.Contains(tag) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPermissionGroup, tag)
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}

// CreateRole persists a new role after scope and catalog validation.
func (s *RoleService) CreateRole(ctx context.Context, creator Principal, req CreateRoleRequest) (*Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	groups, err := s.validateGroups(req.Groups)
	if err != nil {
		return nil, err
	}
	if err := ValidateLineageShape(req.Level, req.Lineage); err != nil {
		return nil, err
	}
	creatorRole, err := s.resolver.ActorRole(ctx, creator)
	if err != nil {
		return nil, err
	}
	if !CanManage(creatorRole, req.Level, req.Lineage) {
		return nil, fmt.Errorf("%w: cannot create a %s-scoped role from %s scope",
			ErrInsufficientPrivilege, req.Level, creatorRole.Level)
	}

	role := &Role{
		Name:      name,
		Groups:    groups,
		Level:     req.Level,
		Lineage:   req.Lineage,
		CreatedBy: creator.UserID,
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	role.IsInvitable = true
	return role, nil
}

// visibleRole loads a role and hides it behind ErrNotFound when it sits
// outside the actor's lineage.
func (s *RoleService) visibleRole(ctx context.Context, actorRole *Role, roleID string) (*Role, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !role.Lineage.Within(actorRole.Lineage) {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	return role, nil
}

// UpdateRole patches name and groups. Scope level is immutable.
func (s *RoleService) UpdateRole(ctx context.Context, actor Principal, roleID string, req UpdateRoleRequest) (*Role, error) {
	if req.Level != nil {
		return nil, fmt.Errorf("%w: scope_level", ErrImmutableField)
	}
	actorRole, err := s.resolver.ActorRole(ctx, actor)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleRole(ctx, actorRole, roleID); err != nil {
		return nil, err
	}

	upd := RoleUpdate{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if req.Groups != nil {
		groups, err := s.validateGroups(req.Groups)
		if err != nil {
			return nil, err
		}
		upd.Groups = groups
	}
	role, err := s.store.UpdateRole(ctx, roleID, upd)
	if err != nil {
		return nil, err
	}
	role.IsInvitable = CanManage(actorRole, role.Level, role.Lineage)
	return role, nil
}

// GetRole returns a role joined with the catalog descriptions of its groups.
func (s *RoleService) GetRole(ctx context.Context, actor Principal, roleID string) (*RoleWithGroups, error) {
	actorRole, err := s.resolver.ActorRole(ctx, actor)
	if err != nil {
		return nil, err
	}
	role, err := s.visibleRole(ctx, actorRole, roleID)
	if err != nil {
		return nil, err
	}
	role.IsInvitable = CanManage(actorRole, role.Level, role.Lineage)
	info := make([]GroupInfo, 0, len(role.Groups))
	for _, tag := range role.Groups {
		info = append(info, GroupInfo{Tag: tag, Description: s.catalog.Describe(tag)})
	}
	return &RoleWithGroups{Role: *role, GroupInfo: info}, nil
}

// ListInvitableRoles returns the roles the actor may grant to a newly invited
// user: at or below the actor's own scope level, inside the actor's lineage,
// ordered by scope level then name.
func (s *RoleService) ListInvitableRoles(ctx context.Context, actor Principal) ([]*Role, error) {
	actorRole, err := s.resolver.ActorRole(ctx, actor)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.ListRolesWithin(ctx, actorRole.Lineage, actorRole.Level)
	if err != nil {
		return nil, err
	}
	out := roles[:0]
	for _, role := range roles {
		if !CanManage(actorRole, role.Level, role.Lineage) {
			continue
		}
		role.IsInvitable = true
		out = append(out, role)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
