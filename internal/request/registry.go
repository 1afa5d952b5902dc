// ABOUTME: Registry is the lifecycle service for assistance requests
// ABOUTME: Validates transitions and authorization, publishes full snapshots to the bus

package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mart-code/first-aid-app/internal/bus"
	"github.com/mart-code/first-aid-app/internal/notify"
	"github.com/mart-code/first-aid-app/internal/store"
)

// DefaultListLimit caps list results when the caller does not specify one.
const DefaultListLimit = 50

// Registry manages the ChatRequest lifecycle. Claims go through the
// assignment coordinator, never through the Registry directly; the Registry
// owns create, read, list, and the close/cancel transitions.
type Registry struct {
	store    store.RequestStore
	bus      bus.Publisher
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewRegistry creates a Registry. Pass nil notifier to disable the
// notification feed and nil logger for the default.
func NewRegistry(s store.RequestStore, pub bus.Publisher, notifier notify.Notifier, logger *slog.Logger) *Registry {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    s,
		bus:      pub,
		notifier: notifier,
		logger:   logger.With("component", "registry"),
	}
}

// Create opens a new assistance request for the requester and broadcasts it
// to responders watching the open-request feed.
func (r *Registry) Create(ctx context.Context, requesterID, category string) (*store.ChatRequest, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("requester id is required")
	}
	if !ValidCategory(category) {
		return nil, fmt.Errorf("unknown category %q", category)
	}

	now := time.Now().UTC()
	req := &store.ChatRequest{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		Status:      store.StatusOpen,
		Category:    category,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	r.logger.Info("request created",
		"request_id", req.ID,
		"requester_id", requesterID,
		"category", category)

	PublishSnapshot(r.bus, req, true)
	r.notifier.RequestLifecycle(ctx, notify.KeyRequestCreated, req)
	return req, nil
}

// Get returns the current state of a request.
func (r *Registry) Get(ctx context.Context, id string) (*store.ChatRequest, error) {
	return r.store.GetRequest(ctx, id)
}

// List returns requests in the given status, newest-created first, optionally
// filtered by category.
func (r *Registry) List(ctx context.Context, status store.Status, category string, limit int) ([]*store.ChatRequest, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return r.store.ListRequests(ctx, status, category, limit)
}

// Close transitions a request to closed. The requester may close from open
// (cancel) or accepted; the assigned admin may close from accepted only.
// Any other actor gets ErrUnauthorized; a request already closed gets
// ErrInvalidTransition.
func (r *Registry) Close(ctx context.Context, id, actorID string) (*store.ChatRequest, error) {
	// The guard below races against concurrent claims: between our read and
	// the conditional write the status can move open -> accepted. One
	// re-read covers that single possible hop; closed is terminal so the
	// second attempt cannot conflict again.
	for attempt := 0; attempt < 2; attempt++ {
		current, err := r.store.GetRequest(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := authorizeClose(current, actorID); err != nil {
			return nil, err
		}

		wasOpen := current.Status == store.StatusOpen
		updated, err := r.store.UpdateRequestStatus(ctx, id, current.Status, store.StatusClosed, "")
		if errors.Is(err, store.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("closing request: %w", err)
		}

		r.logger.Info("request closed",
			"request_id", id,
			"actor_id", actorID,
			"cancelled", wasOpen)

		PublishSnapshot(r.bus, updated, wasOpen)
		r.notifier.RequestLifecycle(ctx, notify.KeyRequestClosed, updated)
		return updated, nil
	}
	return nil, ErrInvalidTransition
}

// authorizeClose validates actor and state machine for a close/cancel.
func authorizeClose(req *store.ChatRequest, actorID string) error {
	if !CanTransition(req.Status, store.StatusClosed) {
		return ErrInvalidTransition
	}
	switch actorID {
	case req.RequesterID:
		return nil
	case req.AdminID:
		if req.Status == store.StatusAccepted {
			return nil
		}
	}
	return ErrUnauthorized
}

// PublishSnapshot broadcasts the full current state of a request on its own
// topic and, when the request is open or just left open, on the open-request
// feed so queue watchers can add or drop it. Handlers filter by status, so
// publishing a non-open snapshot there is how removal propagates.
func PublishSnapshot(pub bus.Publisher, req *store.ChatRequest, onOpenFeed bool) {
	if pub == nil {
		return
	}
	snapshot := *req
	pub.Publish(bus.RequestTopic(req.ID), bus.RequestEvent(uuid.NewString(), bus.RequestTopic(req.ID), &snapshot))
	if onOpenFeed {
		feedCopy := snapshot
		pub.Publish(bus.OpenRequestsTopic, bus.RequestEvent(uuid.NewString(), bus.OpenRequestsTopic, &feedCopy))
	}
}
