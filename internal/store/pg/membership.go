package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"groupcore.org/internal/ids"
	"groupcore.org/internal/membership"
)

func (s *Store) Memberships(context.Context) membership.MembershipStore {
	return &membershipStore{db: s.db}
}

func (s *Store) Roles(context.Context) membership.RoleStore {
	return &roleStore{db: s.db}
}

// Membership store ---------------------------------------------------------

type membershipStore struct{ db *sql.DB }

const membershipColumns = `id, user_id, group_type, group_id, roles, state, created_at, updated_at`

func (s *membershipStore) Create(ctx context.Context, m *membership.Membership) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	roles, err := json.Marshal(m.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into memberships(id, user_id, group_type, group_id, roles, state)
		values($1,$2,$3,$4,$5,$6)
	`, m.ID, m.UserID, m.GroupType, m.GroupID, roles, m.State)
	if err != nil {
		if isUniqueViolation(err) {
			return membership.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *membershipStore) Find(ctx context.Context, id string) (*membership.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+membershipColumns+` from memberships where id=$1`, id)
	return scanMembership(row)
}

func (s *membershipStore) FindByGroupUser(ctx context.Context, groupType, groupID, userID string) (*membership.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+membershipColumns+` from memberships where group_type=$1 and group_id=$2 and user_id=$3`,
		groupType, groupID, userID)
	return scanMembership(row)
}

func (s *membershipStore) ListByUser(ctx context.Context, userID string) ([]*membership.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+membershipColumns+` from memberships where user_id=$1 order by created_at asc`, userID)
	if err != nil {
		return nil, err
	}
	return collectMemberships(rows)
}

func (s *membershipStore) ListByGroup(ctx context.Context, groupType, groupID string) ([]*membership.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+membershipColumns+` from memberships where group_type=$1 and group_id=$2 order by created_at asc`,
		groupType, groupID)
	if err != nil {
		return nil, err
	}
	return collectMemberships(rows)
}

func (s *membershipStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from memberships where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return membership.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*membership.Membership, error) {
	var (
		m     membership.Membership
		roles []byte
	)
	err := row.Scan(&m.ID, &m.UserID, &m.GroupType, &m.GroupID, &roles, &m.State, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, membership.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &m.Roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	return &m, nil
}

func collectMemberships(rows *sql.Rows) ([]*membership.Membership, error) {
	defer rows.Close()
	var res []*membership.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

const roleColumns = `id, group_type, name, permissions, created_at, updated_at`

func (s *roleStore) Create(ctx context.Context, role *membership.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	permissions, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into group_roles(id, group_type, name, permissions)
		values($1,$2,$3,$4)
	`, role.ID, role.GroupType, role.Name, permissions)
	if err != nil {
		if isUniqueViolation(err) {
			return membership.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*membership.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from group_roles where id=$1`, id)
	return scanRole(row)
}

func (s *roleStore) ListByGroupType(ctx context.Context, groupType string) ([]*membership.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from group_roles where group_type=$1 order by name asc`, groupType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*membership.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from group_roles where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return membership.ErrNotFound
	}
	return nil
}

func scanRole(row rowScanner) (*membership.Role, error) {
	var (
		role        membership.Role
		permissions []byte
	)
	err := row.Scan(&role.ID, &role.GroupType, &role.Name, &permissions, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, membership.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &role, nil
}
