// Package broadcast defines the port for pushing chat events to clients.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected client. Payloads
// are the event structs the websocket adapter defines (sending state,
// thread updates).
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
