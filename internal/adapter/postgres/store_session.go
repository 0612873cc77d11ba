package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/session"
)

var sessionCopyColumns = []string{
	"tenant_id", "user_id", "common_name", "real_address", "virtual_address",
	"bytes_received", "bytes_sent", "connected_since", "geo_country", "geo_city", "last_seen",
}

// ReplaceSessions swaps the tenant's session snapshot for sessions in one
// transaction. Readers see either the old or the new set, never a mix.
func (s *Store) ReplaceSessions(ctx context.Context, tenantID int64, sessions []session.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if err := tx.QueryRow(ctx, `SELECT id FROM tenants WHERE id = $1 FOR KEY SHARE`, tenantID).Scan(&id); err != nil {
		return notFoundWrap(err, domain.ErrTenantNotFound, "lock tenant %d", tenantID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM vpn_sessions WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("clear sessions of tenant %d: %w", tenantID, err)
	}

	if len(sessions) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"vpn_sessions"}, sessionCopyColumns,
			pgx.CopyFromSlice(len(sessions), func(i int) ([]any, error) {
				se := sessions[i]
				lastSeen := se.LastSeen
				if lastSeen.IsZero() {
					lastSeen = time.Now().UTC()
				}
				return []any{
					tenantID, se.UserID, se.CommonName, se.RealAddress, se.VirtualAddress,
					se.BytesReceived, se.BytesSent, se.Since, se.GeoCountry, se.GeoCity, lastSeen,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("insert sessions of tenant %d: %w", tenantID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sessions of tenant %d: %w", tenantID, err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, tenantID int64) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, user_id, common_name, real_address, virtual_address,
		        bytes_received, bytes_sent, connected_since, geo_country, geo_city, last_seen
		 FROM vpn_sessions WHERE tenant_id = $1 ORDER BY common_name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sessions of tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var se session.Session
		if err := rows.Scan(&se.ID, &se.TenantID, &se.UserID, &se.CommonName, &se.RealAddress, &se.VirtualAddress,
			&se.BytesReceived, &se.BytesSent, &se.Since, &se.GeoCountry, &se.GeoCity, &se.LastSeen); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, se)
	}
	return orEmpty(out), rows.Err()
}

// DeleteSessionsBefore removes sessions not seen since cutoff, typically
// those of tenants that stopped being reconciled.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM vpn_sessions WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
