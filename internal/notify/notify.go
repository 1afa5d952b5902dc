// ABOUTME: Lifecycle notification feed for external consumers
// ABOUTME: Defines the Notifier interface and routing keys for request events

package notify

import (
	"context"

	"github.com/mart-code/first-aid-app/internal/store"
)

// Routing keys for request lifecycle notifications.
const (
	KeyRequestCreated  = "request.created"
	KeyRequestAccepted = "request.accepted"
	KeyRequestClosed   = "request.closed"
)

// Notifier publishes request lifecycle snapshots to an external feed. The
// push-notification collaborator sits behind this interface; the core never
// depends on how (or whether) notifications are delivered.
type Notifier interface {
	RequestLifecycle(ctx context.Context, key string, req *store.ChatRequest)
}

// Nop is the default Notifier when no feed is configured.
type Nop struct{}

func (Nop) RequestLifecycle(context.Context, string, *store.ChatRequest) {}
