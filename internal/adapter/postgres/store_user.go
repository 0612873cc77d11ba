package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/user"
)

const userColumns = `id, tenant_id, username, email, status, created_at, updated_at`

func scanUser(row scannable) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// UpsertVPNUser records an issued certificate. Re-issuing for an existing
// username reactivates it; an empty email keeps the stored one.
func (s *Store) UpsertVPNUser(ctx context.Context, tenantID int64, username, email string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO vpn_users (tenant_id, username, email, status)
		 VALUES ($1, $2, $3, 'active')
		 ON CONFLICT (tenant_id, username) DO UPDATE
		 SET status = 'active',
		     email = CASE WHEN EXCLUDED.email = '' THEN vpn_users.email ELSE EXCLUDED.email END,
		     updated_at = now()
		 RETURNING `+userColumns,
		tenantID, username, email)

	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s in tenant %d: %w", username, tenantID, constraintErr(err))
	}
	return &u, nil
}

func (s *Store) GetVPNUser(ctx context.Context, tenantID int64, username string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM vpn_users WHERE tenant_id = $1 AND username = $2`, tenantID, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFoundWrap(err, domain.ErrNotFound, "get user %s in tenant %d", username, tenantID)
	}
	return &u, nil
}

func (s *Store) ListVPNUsers(ctx context.Context, tenantID int64) ([]user.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM vpn_users WHERE tenant_id = $1 ORDER BY username`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list users of tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return orEmpty(users), rows.Err()
}

func (s *Store) SetVPNUserStatus(ctx context.Context, tenantID int64, username string, status user.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vpn_users SET status = $3, updated_at = now() WHERE tenant_id = $1 AND username = $2`,
		tenantID, username, string(status))
	return execExpectOne(tag, err, domain.ErrNotFound, "set status of user %s in tenant %d", username, tenantID)
}

func (s *Store) SetVPNUserEmail(ctx context.Context, tenantID int64, username, email string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vpn_users SET email = $3, updated_at = now() WHERE tenant_id = $1 AND username = $2`,
		tenantID, username, email)
	return execExpectOne(tag, err, domain.ErrNotFound, "set email of user %s in tenant %d", username, tenantID)
}
