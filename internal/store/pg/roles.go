package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"opsboard.org/internal/authz"
	"opsboard.org/internal/ids"
)

const roleColumns = `id, name, groups, scope_level, org_id, merchant_id, profile_id, created_by, created_at, updated_at`

func scanRole(scan func(dest ...any) error) (*authz.Role, error) {
	var (
		role      authz.Role
		rawGroups []byte
		level     string
	)
	if err := scan(
		&role.ID, &role.Name, &rawGroups, &level,
		&role.Lineage.OrgID, &role.Lineage.MerchantID, &role.Lineage.ProfileID,
		&role.CreatedBy, &role.CreatedAt, &role.UpdatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := authz.ParseEntityLevel(level)
	if err != nil {
		return nil, fmt.Errorf("decode scope level: %w", err)
	}
	role.Level = parsed
	if len(rawGroups) > 0 {
		if err := json.Unmarshal(rawGroups, &role.Groups); err != nil {
			return nil, fmt.Errorf("decode groups: %w", err)
		}
	}
	return &role, nil
}

func (s *Store) CreateRole(ctx context.Context, role *authz.Role) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	groups, err := json.Marshal(role.Groups)
	if err != nil {
		return fmt.Errorf("marshal groups: %w", err)
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	err = s.db.QueryRowContext(ctx, `
		insert into roles (id, name, groups, scope_level, org_id, merchant_id, profile_id, created_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, role.ID, role.Name, groups, role.Level.String(),
		role.Lineage.OrgID, role.Lineage.MerchantID, role.Lineage.ProfileID, role.CreatedBy,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (*authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1
	`, roleID)
	role, err := scanRole(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %s", authz.ErrNotFound, roleID)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return role, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd authz.RoleUpdate) (*authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Groups != nil {
		groups, err := json.Marshal(upd.Groups)
		if err != nil {
			return nil, fmt.Errorf("marshal groups: %w", err)
		}
		sets = append(sets, fmt.Sprintf("groups = $%d", idx))
		args = append(args, groups)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, roleID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, mapError(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if aff == 0 {
			return nil, fmt.Errorf("%w: role %s", authz.ErrNotFound, roleID)
		}
	}
	return s.GetRole(ctx, roleID)
}

func (s *Store) ListRolesWithin(ctx context.Context, lineage authz.Lineage, maxLevel authz.EntityLevel) ([]*authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		where = []string{"org_id = $1"}
		args  = []any{lineage.OrgID}
		idx   = 2
	)
	if lineage.MerchantID != "" {
		where = append(where, fmt.Sprintf("(merchant_id = $%d or merchant_id = '')", idx))
		args = append(args, lineage.MerchantID)
		idx++
	}
	if lineage.ProfileID != "" {
		where = append(where, fmt.Sprintf("(profile_id = $%d or profile_id = '')", idx))
		args = append(args, lineage.ProfileID)
		idx++
	}
	levels := make([]string, 0, 3)
	for _, l := range []authz.EntityLevel{authz.LevelOrganization, authz.LevelMerchant, authz.LevelProfile} {
		if maxLevel.Dominates(l) {
			levels = append(levels, fmt.Sprintf("'%s'", l))
		}
	}
	where = append(where, fmt.Sprintf("scope_level in (%s)", strings.Join(levels, ", ")))

	query := fmt.Sprintf(`
		select `+roleColumns+`
		from roles
		where %s
		order by case scope_level when 'organization' then 0 when 'merchant' then 1 else 2 end, name
	`, strings.Join(where, " and "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var roles []*authz.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return roles, nil
}
