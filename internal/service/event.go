// Package service implements VPNForge business logic on top of ports.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/VPNForge/internal/domain/event"
	"github.com/Strob0t/VPNForge/internal/logger"
	"github.com/Strob0t/VPNForge/internal/port/broadcast"
	"github.com/Strob0t/VPNForge/internal/port/database"
	"github.com/Strob0t/VPNForge/internal/port/messagequeue"
)

// EventService records tenant lifecycle events and fans them out to the
// message queue and connected WebSocket clients. Recording is best-effort:
// the operation that produced an event has already succeeded.
type EventService struct {
	store database.Store
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewEventService creates an EventService backed by store.
func NewEventService(store database.Store) *EventService {
	return &EventService{store: store}
}

// SetQueue sets the optional message queue events are published to.
func (s *EventService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetBroadcaster sets the optional real-time broadcaster.
func (s *EventService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// Record stores, publishes and broadcasts an event. A nil EventService
// discards it.
func (s *EventService) Record(ctx context.Context, tenantID int64, typ event.Type, payload any) {
	if s == nil {
		return
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Warn("marshal event payload", "type", typ, "tenant_id", tenantID, "error", err)
		} else {
			raw = data
		}
	}

	ev := &event.TenantEvent{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Type:      typ,
		Payload:   raw,
		RequestID: logger.RequestID(ctx),
		CreatedAt: time.Now().UTC(),
	}

	if typ.Persisted() {
		if err := s.store.AppendTenantEvent(ctx, ev); err != nil {
			slog.Warn("append tenant event", "type", typ, "tenant_id", tenantID, "error", err)
		}
	}

	if s.queue != nil {
		msg, err := json.Marshal(messagequeue.TenantEventPayload{
			ID:        ev.ID,
			TenantID:  ev.TenantID,
			Type:      string(ev.Type),
			Payload:   ev.Payload,
			RequestID: ev.RequestID,
		})
		if err == nil {
			err = s.queue.Publish(ctx, messagequeue.TenantEventSubject(string(typ)), msg)
		}
		if err != nil {
			slog.Warn("publish tenant event", "type", typ, "tenant_id", tenantID, "error", err)
		}
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, string(typ), ev)
	}
}

// List returns the most recent events of a tenant, newest first.
func (s *EventService) List(ctx context.Context, tenantID int64, limit int) ([]event.TenantEvent, error) {
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.store.ListTenantEvents(ctx, tenantID, limit)
}
