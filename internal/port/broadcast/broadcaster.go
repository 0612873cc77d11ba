// Package broadcast defines the port for pushing tenant events to live
// admin clients.
package broadcast

import "context"

// Broadcaster fans an event out to connected clients. Implementations must
// not block on slow clients and must drop delivery errors.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
