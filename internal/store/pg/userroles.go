package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"opsboard.org/internal/authz"
)

const bindingColumns = `user_id, email, role_id, org_id, merchant_id, profile_id, status, invited_by, created_at, updated_at`

func scanBinding(scan func(dest ...any) error) (*authz.UserRole, error) {
	var (
		b         authz.UserRole
		status    string
		invitedBy sql.NullString
	)
	if err := scan(
		&b.UserID, &b.Email, &b.RoleID,
		&b.Lineage.OrgID, &b.Lineage.MerchantID, &b.Lineage.ProfileID,
		&status, &invitedBy, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Status = authz.UserRoleStatus(status)
	if invitedBy.Valid {
		b.InvitedBy = invitedBy.String
	}
	return &b, nil
}

func (s *Store) CreateBinding(ctx context.Context, binding *authz.UserRole) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	err := s.db.QueryRowContext(ctx, `
		insert into user_roles (user_id, email, role_id, org_id, merchant_id, profile_id, status, invited_by)
		values ($1, $2, $3, $4, $5, $6, $7, nullif($8, ''))
		returning created_at, updated_at
	`, binding.UserID, binding.Email, binding.RoleID,
		binding.Lineage.OrgID, binding.Lineage.MerchantID, binding.Lineage.ProfileID,
		string(binding.Status), binding.InvitedBy,
	).Scan(&binding.CreatedAt, &binding.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) ListInvited(ctx context.Context, userID string) ([]*authz.UserRole, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+bindingColumns+`
		from user_roles
		where user_id = $1 and status = 'invited'
		order by org_id, merchant_id, profile_id
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var bindings []*authz.UserRole
	for rows.Next() {
		b, err := scanBinding(rows.Scan)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return bindings, nil
}

func (s *Store) FindBinding(ctx context.Context, userID string, lineage authz.Lineage) (*authz.UserRole, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+bindingColumns+`
		from user_roles
		where user_id = $1 and org_id = $2 and merchant_id = $3 and profile_id = $4
	`, userID, lineage.OrgID, lineage.MerchantID, lineage.ProfileID)
	b, err := scanBinding(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no binding for user %s", authz.ErrNotFound, userID)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

// ActivateBinding is the conditional invited -> active transition. The
// exchange receipt insert and the status-guarded update run in one
// transaction: a credential id seen before fails on the receipt's primary
// key, and a concurrent transition on the same binding leaves zero rows
// affected. Either way only one caller activates per credential.
func (s *Store) ActivateBinding(ctx context.Context, userID string, lineage authz.Lineage, exchangeID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into exchange_receipts (token_id, user_id)
		values ($1, $2)
	`, exchangeID, userID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: credential already exchanged", authz.ErrAlreadyProcessed)
		}
		return mapError(err)
	}

	res, err := tx.ExecContext(ctx, `
		update user_roles
		set status = 'active', updated_at = now()
		where user_id = $1 and org_id = $2 and merchant_id = $3 and profile_id = $4
		  and status = 'invited'
	`, userID, lineage.OrgID, lineage.MerchantID, lineage.ProfileID)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff > 0 {
		return mapError(tx.Commit())
	}

	var status string
	err = s.db.QueryRowContext(ctx, `
		select status from user_roles
		where user_id = $1 and org_id = $2 and merchant_id = $3 and profile_id = $4
	`, userID, lineage.OrgID, lineage.MerchantID, lineage.ProfileID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: no binding for user %s", authz.ErrNotFound, userID)
	}
	if err != nil {
		return mapError(err)
	}
	return fmt.Errorf("%w: binding is %s", authz.ErrAlreadyProcessed, status)
}

func (s *Store) ReassignBinding(ctx context.Context, userID string, lineage authz.Lineage, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update user_roles
		set role_id = $5, updated_at = now()
		where user_id = $1 and org_id = $2 and merchant_id = $3 and profile_id = $4
		  and status = 'active'
	`, userID, lineage.OrgID, lineage.MerchantID, lineage.ProfileID, roleID)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: no active binding for user %s", authz.ErrNotFound, userID)
	}
	return nil
}

func (s *Store) DeleteBinding(ctx context.Context, userID string, lineage authz.Lineage) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and org_id = $2 and merchant_id = $3 and profile_id = $4
	`, userID, lineage.OrgID, lineage.MerchantID, lineage.ProfileID)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: no binding for user %s", authz.ErrNotFound, userID)
	}
	return nil
}

// ListBindingsWithin streams bindings joined with their role's name and level,
// scoped by lineage prefix. Ordered by user id for deterministic listings.
func (s *Store) ListBindingsWithin(ctx context.Context, lineage authz.Lineage) ([]*authz.BindingWithRole, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		where = []string{"ur.org_id = $1"}
		args  = []any{lineage.OrgID}
		idx   = 2
	)
	if lineage.MerchantID != "" {
		where = append(where, fmt.Sprintf("ur.merchant_id = $%d", idx))
		args = append(args, lineage.MerchantID)
		idx++
	}
	if lineage.ProfileID != "" {
		where = append(where, fmt.Sprintf("ur.profile_id = $%d", idx))
		args = append(args, lineage.ProfileID)
		idx++
	}
	query := fmt.Sprintf(`
		select ur.user_id, ur.email, ur.role_id, ur.org_id, ur.merchant_id, ur.profile_id,
		       ur.status, ur.invited_by, ur.created_at, ur.updated_at,
		       r.name, r.scope_level
		from user_roles ur
		join roles r on r.id = ur.role_id
		where %s
		order by ur.user_id
	`, strings.Join(where, " and "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*authz.BindingWithRole
	for rows.Next() {
		var (
			row       authz.BindingWithRole
			status    string
			invitedBy sql.NullString
			level     string
		)
		if err := rows.Scan(
			&row.UserID, &row.Email, &row.RoleID,
			&row.UserRole.Lineage.OrgID, &row.UserRole.Lineage.MerchantID, &row.UserRole.Lineage.ProfileID,
			&status, &invitedBy, &row.CreatedAt, &row.UpdatedAt,
			&row.RoleName, &level,
		); err != nil {
			return nil, err
		}
		row.Status = authz.UserRoleStatus(status)
		if invitedBy.Valid {
			row.InvitedBy = invitedBy.String
		}
		parsed, err := authz.ParseEntityLevel(level)
		if err != nil {
			return nil, fmt.Errorf("decode scope level: %w", err)
		}
		row.Level = parsed
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}
