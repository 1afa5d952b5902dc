// ABOUTME: Coordinator guards single-responder assignment of open requests
// ABOUTME: Claim is a compare-and-set on the status field; exactly one concurrent caller wins

package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mart-code/first-aid-app/internal/bus"
	"github.com/mart-code/first-aid-app/internal/notify"
	"github.com/mart-code/first-aid-app/internal/request"
	"github.com/mart-code/first-aid-app/internal/store"
)

// ErrAlreadyAssigned is returned when a claim loses the race: the request was
// no longer open at write time. The caller must re-read the request to learn
// the winning admin. Claims are never silently retried here; an unguarded
// retry could hand one conversation to two responders with no later repair.
var ErrAlreadyAssigned = errors.New("request already assigned")

// Coordinator performs atomic claims. It is the only path that moves a
// request from open to accepted.
type Coordinator struct {
	store    store.RequestStore
	bus      bus.Publisher
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. Pass nil notifier to disable the
// notification feed and nil logger for the default.
func NewCoordinator(s store.RequestStore, pub bus.Publisher, notifier notify.Notifier, logger *slog.Logger) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    s,
		bus:      pub,
		notifier: notifier,
		logger:   logger.With("component", "coordinator"),
	}
}

// Claim attempts the conditional open -> accepted transition with adminID
// assigned. The store applies the write only if the status is still open, so
// of any set of concurrent claims exactly one succeeds; the rest get
// ErrAlreadyAssigned.
func (c *Coordinator) Claim(ctx context.Context, requestID, adminID string) (*store.ChatRequest, error) {
	if adminID == "" {
		return nil, fmt.Errorf("admin id is required")
	}

	updated, err := c.store.UpdateRequestStatus(ctx, requestID, store.StatusOpen, store.StatusAccepted, adminID)
	if errors.Is(err, store.ErrStatusConflict) {
		c.logger.Debug("claim lost race", "request_id", requestID, "admin_id", adminID)
		return nil, ErrAlreadyAssigned
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("request claimed", "request_id", requestID, "admin_id", adminID)

	// The accepted snapshot also goes to the open-request feed so queue
	// watchers drop the request from their lists.
	request.PublishSnapshot(c.bus, updated, true)
	c.notifier.RequestLifecycle(ctx, notify.KeyRequestAccepted, updated)
	return updated, nil
}
