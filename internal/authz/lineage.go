package authz

import (
	"context"
	"errors"
	"sort"
)

// Directory lists users visible within a principal's organizational scope.
type Directory struct {
	bindings UserRoleStore
	resolver *Resolver
}

// NewDirectory constructs a Directory.
func NewDirectory(bindings UserRoleStore, resolver *Resolver) (*Directory, error) {
	if bindings == nil {
		return nil, errors.New("authz: user-role store is required")
	}
	if resolver == nil {
		return nil, errors.New("authz: resolver is required")
	}
	return &Directory{bindings: bindings, resolver: resolver}, nil
}

// ListUsersInLineage returns every binding whose lineage sits inside the
// principal's own, with the scope dominance rule applied per binding's role.
// Ordered by user id for determinism.
func (d *Directory) ListUsersInLineage(ctx context.Context, p Principal) ([]UserSummary, error) {
	actorRole, err := d.resolver.ActorRole(ctx, p)
	if err != nil {
		return nil, err
	}
	rows, err := d.bindings.ListBindingsWithin(ctx, actorRole.Lineage)
	if err != nil {
		return nil, err
	}
	out := make([]UserSummary, 0, len(rows))
	for _, row := range rows {
		if !CanManage(actorRole, row.Level, row.UserRole.Lineage) {
			continue
		}
		out = append(out, UserSummary{
			UserID:   row.UserID,
			Email:    row.Email,
			RoleID:   row.RoleID,
			RoleName: row.RoleName,
			Level:    row.Level,
			Status:   row.Status,
			Lineage:  row.UserRole.Lineage,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
