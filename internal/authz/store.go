package authz

import "context"

// RoleUpdate carries a partial role update; nil/empty fields are left as-is.
// Scope level is deliberately absent: it is immutable.
type RoleUpdate struct {
	Name   *string
	Groups []GroupTag
}

// RoleStore describes the persistence contract for role definitions.
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*Role, error)
	// ListRolesWithin returns roles inside the lineage whose level is at or
	// below maxLevel, ordered by scope level (organization first) then name.
	ListRolesWithin(ctx context.Context, lineage Lineage, maxLevel EntityLevel) ([]*Role, error)
}

// BindingWithRole is a user-role binding joined with its role's name and level.
type BindingWithRole struct {
	UserRole
	RoleName string
	Level    EntityLevel
}

// UserRoleStore describes the persistence contract for user-role bindings.
//
// ActivateBinding must be atomic on two counts: the binding transitions from
// invited to active only if it is still invited, and exchangeID is recorded as
// consumed in the same transaction. An exchangeID seen before, or a binding
// that already left the invited status, fails ErrAlreadyProcessed; a missing
// binding fails ErrNotFound. Consuming the id is what makes one credential
// good for exactly one activation, whichever candidate it names.
type UserRoleStore interface {
	CreateBinding(ctx context.Context, binding *UserRole) error
	ListInvited(ctx context.Context, userID string) ([]*UserRole, error)
	FindBinding(ctx context.Context, userID string, lineage Lineage) (*UserRole, error)
	ActivateBinding(ctx context.Context, userID string, lineage Lineage, exchangeID string) error
	ReassignBinding(ctx context.Context, userID string, lineage Lineage, roleID string) error
	DeleteBinding(ctx context.Context, userID string, lineage Lineage) error
	ListBindingsWithin(ctx context.Context, lineage Lineage) ([]*BindingWithRole, error)
}
