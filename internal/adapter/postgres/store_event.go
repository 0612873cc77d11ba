package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Strob0t/VPNForge/internal/domain/event"
)

const defaultEventLimit = 100

// AppendTenantEvent stores ev, assigning ID and CreatedAt when unset.
func (s *Store) AppendTenantEvent(ctx context.Context, ev *event.TenantEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	var payload any
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenant_events (id, tenant_id, type, payload, request_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		ev.ID, ev.TenantID, string(ev.Type), payload, ev.RequestID).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event %s for tenant %d: %w", ev.Type, ev.TenantID, constraintErr(err))
	}
	return nil
}

// ListTenantEvents returns the most recent events of a tenant, newest first.
func (s *Store) ListTenantEvents(ctx context.Context, tenantID int64, limit int) ([]event.TenantEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, type, payload, request_id, created_at
		 FROM tenant_events WHERE tenant_id = $1
		 ORDER BY created_at DESC, id LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events of tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var events []event.TenantEvent
	for rows.Next() {
		var ev event.TenantEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.Type, &payload, &ev.RequestID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return orEmpty(events), rows.Err()
}
