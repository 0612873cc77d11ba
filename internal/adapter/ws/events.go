package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/VPNForge/internal/domain/event"
	"github.com/Strob0t/VPNForge/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals payload and broadcasts it. Tenant events are only
// delivered to clients watching that tenant.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	msg := Message{Type: eventType, Payload: json.RawMessage(data)}
	switch ev := payload.(type) {
	case *event.TenantEvent:
		msg.TenantID = ev.TenantID
	case event.TenantEvent:
		msg.TenantID = ev.TenantID
	}
	h.Broadcast(ctx, msg)
}
