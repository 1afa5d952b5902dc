// ABOUTME: Client-side sync adapter reconciling optimistic local state with server events
// ABOUTME: Single event loop applies snapshots sequentially; watches resync after delivery gaps

package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mart-code/first-aid-app/internal/bus"
	"github.com/mart-code/first-aid-app/internal/conversation"
	"github.com/mart-code/first-aid-app/internal/store"
)

// Backend is the server surface the adapter talks to. In-process callers wire
// the request registry and conversation service directly; remote clients wire
// an HTTP client with the same shape.
type Backend interface {
	GetRequest(ctx context.Context, id string) (*store.ChatRequest, error)
	ListOpen(ctx context.Context, category string) ([]*store.ChatRequest, error)
	History(ctx context.Context, participantA, participantB string, limit int, beforeCursor string) (*conversation.Page, error)
	Append(ctx context.Context, senderID, receiverID, body, dedupToken string) (*store.Message, error)
}

// EventSource delivers topic-scoped events. *bus.Broadcaster satisfies it.
type EventSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *bus.Event, string)
	Unsubscribe(topic, subID string)
}

// HistoryPageSize is how many messages a conversation watch seeds with.
const HistoryPageSize = 50

// Client mirrors one user's view of requests and conversations. All event
// handling runs on a single loop inside Run, so handlers never observe
// half-applied state; accessors take copies under the same lock the loop
// mutates through.
type Client struct {
	userID  string
	backend Backend
	source  EventSource
	retry   RetryPolicy
	logger  *slog.Logger

	mu        sync.Mutex
	requests  map[string]*store.ChatRequest // by request id, watched requests
	open      map[string]*store.ChatRequest // live open-queue view, when watched
	openWatch bool
	openCat   string
	timelines map[string]*Timeline // by conversation key

	events  chan *bus.Event
	resyncs chan string // topics whose subscription dropped mid-watch

	subMu sync.Mutex
	subs  map[string]*subscription

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type subscription struct {
	topic  string
	subID  string
	cancel context.CancelFunc
}

// NewClient creates an adapter for one user. A nil logger discards output.
func NewClient(userID string, backend Backend, source EventSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		userID:    userID,
		backend:   backend,
		source:    source,
		retry:     DefaultRetryPolicy,
		logger:    logger.With("component", "sync", "user_id", userID),
		requests:  make(map[string]*store.ChatRequest),
		open:      make(map[string]*store.ChatRequest),
		timelines: make(map[string]*Timeline),
		events:    make(chan *bus.Event, 256),
		resyncs:   make(chan string, 16),
		subs:      make(map[string]*subscription),
		closed:    make(chan struct{}),
	}
}

// Run drives the event loop until ctx is cancelled or Close is called.
// Watches may be registered before or during Run; buffered channels hold
// events published in between.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case event := <-c.events:
			c.apply(event)
		case topic := <-c.resyncs:
			if err := c.Resync(ctx, topic); err != nil {
				c.logger.Error("resync failed", "topic", topic, "error", err)
			}
		}
	}
}

// WatchRequest seeds the request's current state from the backend and keeps
// it live through snapshot events. Idempotent per request id.
func (c *Client) WatchRequest(ctx context.Context, requestID string) error {
	topic := bus.RequestTopic(requestID)
	if err := c.subscribe(topic); err != nil {
		return err
	}
	return c.seedRequest(ctx, requestID)
}

// WatchConversation seeds recent history with the peer and keeps the timeline
// live through message events.
func (c *Client) WatchConversation(ctx context.Context, peerID string) error {
	topic := bus.ConversationTopic(c.userID, peerID)
	if err := c.subscribe(topic); err != nil {
		return err
	}
	return c.seedConversation(ctx, peerID)
}

// WatchOpenRequests seeds the open queue, optionally filtered by category,
// and keeps it live: requests entering the queue appear, claimed or cancelled
// ones drop out.
func (c *Client) WatchOpenRequests(ctx context.Context, category string) error {
	c.mu.Lock()
	c.openWatch = true
	c.openCat = category
	c.mu.Unlock()

	if err := c.subscribe(bus.OpenRequestsTopic); err != nil {
		return err
	}
	return c.seedOpen(ctx)
}

// Unwatch releases the subscription for a topic. Local state already seeded
// stays readable but no longer updates.
func (c *Client) Unwatch(topic string) {
	c.subMu.Lock()
	sub, ok := c.subs[topic]
	if ok {
		delete(c.subs, topic)
	}
	c.subMu.Unlock()
	if ok {
		sub.cancel()
		c.source.Unsubscribe(sub.topic, sub.subID)
	}
}

// Close releases every subscription and stops the event loop. Safe to call
// multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.subMu.Lock()
		subs := make([]*subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		c.subs = make(map[string]*subscription)
		c.subMu.Unlock()

		for _, sub := range subs {
			sub.cancel()
			c.source.Unsubscribe(sub.topic, sub.subID)
		}
	})
	c.wg.Wait()
}

// Send appends a message to the peer with an optimistic local echo. The echo
// is tagged with a fresh dedup token; timed-out appends are retried under the
// same token, so at most one copy is ever stored. The authoritative message
// replaces the echo either here or when its broadcast arrives, whichever is
// first.
func (c *Client) Send(ctx context.Context, peerID, body string) (*store.Message, error) {
	if peerID == "" || body == "" {
		return nil, fmt.Errorf("peer id and body are required")
	}

	token := uuid.New().String()
	key := store.PairKey(c.userID, peerID)
	echo := &store.Message{
		ID:              "pending-" + token,
		SenderID:        c.userID,
		ReceiverID:      peerID,
		ConversationKey: key,
		Body:            body,
		DedupToken:      token,
		CreatedAt:       time.Now().UTC(),
	}

	c.mu.Lock()
	c.timeline(key).AddPending(echo)
	c.mu.Unlock()

	var msg *store.Message
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var appendErr error
		msg, appendErr = c.backend.Append(ctx, c.userID, peerID, body, token)
		return appendErr
	})
	if err != nil {
		// The echo stays pending; the next resync or retry may still land it.
		return nil, fmt.Errorf("sending message: %w", err)
	}

	c.mu.Lock()
	c.timeline(key).Insert(msg)
	c.mu.Unlock()
	return msg, nil
}

// Request returns the last-known state of a watched request.
func (c *Client) Request(requestID string) (*store.ChatRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[requestID]
	if !ok {
		return nil, false
	}
	snapshot := *req
	return &snapshot, true
}

// OpenRequests returns the live open-queue view, newest first.
func (c *Client) OpenRequests() []*store.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*store.ChatRequest, 0, len(c.open))
	for _, req := range c.open {
		snapshot := *req
		out = append(out, &snapshot)
	}
	sortRequestsNewestFirst(out)
	return out
}

// Messages returns the conversation timeline with the peer in display order,
// pending echoes included.
func (c *Client) Messages(peerID string) []*Entry {
	key := store.PairKey(c.userID, peerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	tl, ok := c.timelines[key]
	if !ok {
		return nil
	}
	return tl.Messages()
}

// Resync refetches authoritative state for a topic and resubscribes. Called
// by the loop after a subscription drops, and usable directly after any
// suspected delivery gap.
func (c *Client) Resync(ctx context.Context, topic string) error {
	if err := c.subscribe(topic); err != nil {
		return err
	}

	if id, ok := bus.ParseRequestTopic(topic); ok {
		return c.seedRequest(ctx, id)
	}
	if key, ok := bus.ParseConversationTopic(topic); ok {
		peer, ok := store.PairPeer(key, c.userID)
		if !ok {
			return fmt.Errorf("conversation topic %q does not involve this user", topic)
		}
		return c.seedConversation(ctx, peer)
	}
	if topic == bus.OpenRequestsTopic {
		return c.seedOpen(ctx)
	}
	return fmt.Errorf("unknown topic %q", topic)
}

func (c *Client) apply(event *bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case bus.EventTypeRequest:
		if event.Request == nil {
			return
		}
		c.applyRequestLocked(event.Topic, event.Request)
	case bus.EventTypeMessage:
		if event.Message == nil {
			return
		}
		c.timeline(event.Message.ConversationKey).Insert(event.Message)
	default:
		c.logger.Debug("ignoring unknown event type", "type", event.Type)
	}
}

// applyRequestLocked applies a full request snapshot: whole-state replace for
// watched requests, insert-or-drop for the open-queue view.
func (c *Client) applyRequestLocked(topic string, req *store.ChatRequest) {
	snapshot := *req

	if _, watched := c.requests[req.ID]; watched || topic == bus.RequestTopic(req.ID) {
		c.requests[req.ID] = &snapshot
	}

	if !c.openWatch {
		return
	}
	if snapshot.Status == store.StatusOpen && (c.openCat == "" || snapshot.Category == c.openCat) {
		c.open[req.ID] = &snapshot
	} else {
		delete(c.open, req.ID)
	}
}

func (c *Client) seedRequest(ctx context.Context, requestID string) error {
	var req *store.ChatRequest
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var getErr error
		req, getErr = c.backend.GetRequest(ctx, requestID)
		return getErr
	})
	if err != nil {
		return fmt.Errorf("seeding request %s: %w", requestID, err)
	}

	c.mu.Lock()
	c.requests[req.ID] = req
	c.mu.Unlock()
	return nil
}

func (c *Client) seedConversation(ctx context.Context, peerID string) error {
	var page *conversation.Page
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var histErr error
		page, histErr = c.backend.History(ctx, c.userID, peerID, HistoryPageSize, "")
		return histErr
	})
	if err != nil {
		return fmt.Errorf("seeding conversation with %s: %w", peerID, err)
	}

	key := store.PairKey(c.userID, peerID)
	c.mu.Lock()
	c.timeline(key).Seed(page.Messages)
	c.mu.Unlock()
	return nil
}

func (c *Client) seedOpen(ctx context.Context) error {
	c.mu.Lock()
	category := c.openCat
	c.mu.Unlock()

	var reqs []*store.ChatRequest
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var listErr error
		reqs, listErr = c.backend.ListOpen(ctx, category)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("seeding open requests: %w", err)
	}

	c.mu.Lock()
	c.open = make(map[string]*store.ChatRequest, len(reqs))
	for _, req := range reqs {
		c.open[req.ID] = req
	}
	c.mu.Unlock()
	return nil
}

// subscribe registers a topic watch, replacing any existing subscription for
// the same topic. The forwarder goroutine pushes events into the loop and,
// if the channel closes while the watch is still wanted, queues a resync.
func (c *Client) subscribe(topic string) error {
	select {
	case <-c.closed:
		return fmt.Errorf("client is closed")
	default:
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch, subID := c.source.Subscribe(subCtx, topic)
	sub := &subscription{topic: topic, subID: subID, cancel: cancel}

	c.subMu.Lock()
	prev := c.subs[topic]
	c.subs[topic] = sub
	c.subMu.Unlock()
	if prev != nil {
		prev.cancel()
		c.source.Unsubscribe(prev.topic, prev.subID)
	}

	c.wg.Add(1)
	go c.forward(sub, ch)
	return nil
}

func (c *Client) forward(sub *subscription, ch <-chan *bus.Event) {
	defer c.wg.Done()

	for event := range ch {
		select {
		case c.events <- event:
		case <-c.closed:
			return
		}
	}

	// Channel closed. If this subscription is still the registered one, the
	// source dropped us and the loop must refetch and resubscribe.
	c.subMu.Lock()
	current := c.subs[sub.topic] == sub
	if current {
		delete(c.subs, sub.topic)
	}
	c.subMu.Unlock()
	sub.cancel()
	if !current {
		return
	}

	select {
	case c.resyncs <- sub.topic:
	case <-c.closed:
	}
}

// timeline returns the timeline for a conversation key, creating it if
// needed. Caller holds c.mu.
func (c *Client) timeline(key string) *Timeline {
	tl, ok := c.timelines[key]
	if !ok {
		tl = NewTimeline()
		c.timelines[key] = tl
	}
	return tl
}

func sortRequestsNewestFirst(reqs []*store.ChatRequest) {
	for i := 1; i < len(reqs); i++ {
		for j := i; j > 0 && reqs[j].CreatedAt.After(reqs[j-1].CreatedAt); j-- {
			reqs[j], reqs[j-1] = reqs[j-1], reqs[j]
		}
	}
}
