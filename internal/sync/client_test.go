// ABOUTME: Tests for the client sync adapter against the in-process services
// ABOUTME: Covers seeding, snapshot merges, optimistic sends, retries, resync, and teardown

package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mart-code/first-aid-app/internal/assign"
	"github.com/mart-code/first-aid-app/internal/bus"
	"github.com/mart-code/first-aid-app/internal/conversation"
	"github.com/mart-code/first-aid-app/internal/request"
	"github.com/mart-code/first-aid-app/internal/store"
)

const waitFor = 2 * time.Second

var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

type harness struct {
	store         *store.MockStore
	bus           *bus.Broadcaster
	registry      *request.Registry
	coordinator   *assign.Coordinator
	conversations *conversation.Service
	backend       Backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewMockStore()
	b := bus.NewBroadcaster(0, nil)
	t.Cleanup(b.Close)

	reg := request.NewRegistry(s, b, nil, nil)
	svc := conversation.New(s, b, nil)
	return &harness{
		store:         s,
		bus:           b,
		registry:      reg,
		coordinator:   assign.NewCoordinator(s, b, nil, nil),
		conversations: svc,
		backend:       &LocalBackend{Registry: reg, Conversations: svc},
	}
}

func (h *harness) newClient(t *testing.T, userID string) *Client {
	t.Helper()
	c := NewClient(userID, h.backend, h.bus, nil)
	c.retry = fastRetry
	t.Cleanup(c.Close)
	go c.Run(t.Context())
	return c
}

func TestWatchRequest_SeedsAndAppliesSnapshots(t *testing.T) {
	h := newHarness(t)
	req, err := h.registry.Create(t.Context(), "alice", "doctor")
	require.NoError(t, err)

	c := h.newClient(t, "alice")
	require.NoError(t, c.WatchRequest(t.Context(), req.ID))

	got, ok := c.Request(req.ID)
	require.True(t, ok)
	assert.Equal(t, store.StatusOpen, got.Status)

	_, err = h.coordinator.Claim(t.Context(), req.ID, "admin-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := c.Request(req.ID)
		return ok && got.Status == store.StatusAccepted && got.AdminID == "admin-1"
	}, waitFor, 5*time.Millisecond)
}

func TestWatchOpenRequests_TracksQueueMembership(t *testing.T) {
	h := newHarness(t)
	c := h.newClient(t, "admin-1")
	require.NoError(t, c.WatchOpenRequests(t.Context(), ""))
	assert.Empty(t, c.OpenRequests())

	req, err := h.registry.Create(t.Context(), "alice", "accident")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(c.OpenRequests()) == 1
	}, waitFor, 5*time.Millisecond)

	// A claimed request leaves the queue view.
	_, err = h.coordinator.Claim(t.Context(), req.ID, "admin-2")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(c.OpenRequests()) == 0
	}, waitFor, 5*time.Millisecond)
}

func TestWatchOpenRequests_CategoryFilter(t *testing.T) {
	h := newHarness(t)
	c := h.newClient(t, "admin-1")
	require.NoError(t, c.WatchOpenRequests(t.Context(), "firefighter"))

	_, err := h.registry.Create(t.Context(), "alice", "doctor")
	require.NoError(t, err)
	fire, err := h.registry.Create(t.Context(), "bob", "firefighter")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		open := c.OpenRequests()
		return len(open) == 1 && open[0].ID == fire.ID
	}, waitFor, 5*time.Millisecond)
}

func TestSend_OptimisticEchoReconciles(t *testing.T) {
	h := newHarness(t)
	c := h.newClient(t, "alice")
	require.NoError(t, c.WatchConversation(t.Context(), "bob"))

	msg, err := c.Send(t.Context(), "bob", "are you there?")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	// Exactly one entry survives even after the broadcast echo arrives.
	require.Eventually(t, func() bool {
		entries := c.Messages("bob")
		return len(entries) == 1 && !entries[0].Pending && entries[0].Message.ID == msg.ID
	}, waitFor, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return len(c.Messages("bob")) != 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

// timeoutBackend times out the first append attempts; the stored message from
// a prior timed-out attempt must win over later retries.
type timeoutBackend struct {
	Backend

	mu       sync.Mutex
	failures int
	appends  int
	tokens   map[string]int
}

func (b *timeoutBackend) Append(ctx context.Context, senderID, receiverID, body, dedupToken string) (*store.Message, error) {
	b.mu.Lock()
	b.appends++
	if b.tokens == nil {
		b.tokens = make(map[string]int)
	}
	b.tokens[dedupToken]++
	fail := b.failures > 0
	if fail {
		b.failures--
	}
	b.mu.Unlock()

	msg, err := b.Backend.Append(ctx, senderID, receiverID, body, dedupToken)
	if err != nil {
		return nil, err
	}
	if fail {
		// The write landed but the response was lost.
		return nil, context.DeadlineExceeded
	}
	return msg, nil
}

func TestSend_RetriesTimeoutsUnderSameToken(t *testing.T) {
	h := newHarness(t)
	tb := &timeoutBackend{Backend: h.backend, failures: 2}

	c := NewClient("alice", tb, h.bus, nil)
	c.retry = fastRetry
	t.Cleanup(c.Close)
	go c.Run(t.Context())
	require.NoError(t, c.WatchConversation(t.Context(), "bob"))

	msg, err := c.Send(t.Context(), "bob", "only once please")
	require.NoError(t, err)

	tb.mu.Lock()
	assert.Equal(t, 3, tb.appends)
	assert.Len(t, tb.tokens, 1, "all attempts must reuse the same dedup token")
	tb.mu.Unlock()

	// The retry replayed against the dedup index, so storage holds one copy.
	page, err := h.conversations.History(t.Context(), "alice", "bob", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, msg.ID, page.Messages[0].ID)

	require.Eventually(t, func() bool {
		entries := c.Messages("bob")
		return len(entries) == 1 && !entries[0].Pending
	}, waitFor, 5*time.Millisecond)
}

func TestSend_NonTransientErrorKeepsEchoPending(t *testing.T) {
	h := newHarness(t)
	c := h.newClient(t, "alice")
	require.NoError(t, c.WatchConversation(t.Context(), "bob"))

	_, err := c.Send(t.Context(), "alice", "to myself")
	require.Error(t, err)

	// The optimistic echo is not silently discarded.
	entries := c.Messages("alice")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Pending)
}

// droppingSource wraps the broadcaster and lets tests sever a delivery
// channel without the client's cooperation.
type droppingSource struct {
	inner *bus.Broadcaster

	mu   sync.Mutex
	subs map[string]string // topic -> latest subID
}

func (d *droppingSource) Subscribe(ctx context.Context, topic string) (<-chan *bus.Event, string) {
	ch, subID := d.inner.Subscribe(ctx, topic)
	d.mu.Lock()
	if d.subs == nil {
		d.subs = make(map[string]string)
	}
	d.subs[topic] = subID
	d.mu.Unlock()
	return ch, subID
}

func (d *droppingSource) Unsubscribe(topic, subID string) {
	d.inner.Unsubscribe(topic, subID)
}

func (d *droppingSource) drop(topic string) {
	d.mu.Lock()
	subID := d.subs[topic]
	d.mu.Unlock()
	d.inner.Unsubscribe(topic, subID)
}

func TestResync_AfterSubscriptionDrop(t *testing.T) {
	h := newHarness(t)
	src := &droppingSource{inner: h.bus}
	req, err := h.registry.Create(t.Context(), "alice", "doctor")
	require.NoError(t, err)

	c := NewClient("alice", h.backend, src, nil)
	c.retry = fastRetry
	t.Cleanup(c.Close)
	go c.Run(t.Context())
	require.NoError(t, c.WatchRequest(t.Context(), req.ID))

	topic := bus.RequestTopic(req.ID)
	src.drop(topic)

	// A claim lands while the client is disconnected; resync must pick it up
	// via the refetch even though the broadcast was missed.
	_, err = h.coordinator.Claim(t.Context(), req.ID, "admin-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := c.Request(req.ID)
		return ok && got.Status == store.StatusAccepted
	}, waitFor, 5*time.Millisecond)

	// And the new subscription is live again for later snapshots.
	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(topic) == 1
	}, waitFor, 5*time.Millisecond)
}

func TestClose_ReleasesAllSubscriptions(t *testing.T) {
	h := newHarness(t)
	req, err := h.registry.Create(t.Context(), "alice", "doctor")
	require.NoError(t, err)

	c := h.newClient(t, "alice")
	require.NoError(t, c.WatchRequest(t.Context(), req.ID))
	require.NoError(t, c.WatchConversation(t.Context(), "admin-1"))
	require.NoError(t, c.WatchOpenRequests(t.Context(), ""))

	c.Close()

	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(bus.RequestTopic(req.ID)) == 0 &&
			h.bus.SubscriberCount(bus.ConversationTopic("alice", "admin-1")) == 0 &&
			h.bus.SubscriberCount(bus.OpenRequestsTopic) == 0
	}, waitFor, 5*time.Millisecond)

	assert.Error(t, c.WatchRequest(t.Context(), req.ID))
}

func TestUnwatch_ReleasesSingleTopic(t *testing.T) {
	h := newHarness(t)
	c := h.newClient(t, "alice")
	require.NoError(t, c.WatchConversation(t.Context(), "bob"))

	topic := bus.ConversationTopic("alice", "bob")
	require.Equal(t, 1, h.bus.SubscriberCount(topic))

	c.Unwatch(topic)
	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(topic) == 0
	}, waitFor, 5*time.Millisecond)
}

// Closing a request must reach both the requester and the assigned responder
// through their own watches.
func TestCloseFanOut_ReachesBothParticipants(t *testing.T) {
	h := newHarness(t)
	req, err := h.registry.Create(t.Context(), "alice", "accident")
	require.NoError(t, err)
	_, err = h.coordinator.Claim(t.Context(), req.ID, "admin-1")
	require.NoError(t, err)

	requester := h.newClient(t, "alice")
	responder := h.newClient(t, "admin-1")
	require.NoError(t, requester.WatchRequest(t.Context(), req.ID))
	require.NoError(t, responder.WatchRequest(t.Context(), req.ID))

	_, err = h.registry.Close(t.Context(), req.ID, "admin-1")
	require.NoError(t, err)

	for _, c := range []*Client{requester, responder} {
		require.Eventually(t, func() bool {
			got, ok := c.Request(req.ID)
			return ok && got.Status == store.StatusClosed
		}, waitFor, 5*time.Millisecond)
	}
}
