// ABOUTME: Service is the append-only conversation layer over the message store
// ABOUTME: Appends are idempotent per dedup token and every stored message is broadcast

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mart-code/first-aid-app/internal/bus"
	"github.com/mart-code/first-aid-app/internal/store"
)

// DefaultPageSize caps history pages when the caller does not specify one.
const DefaultPageSize = 50

// Service provides message append and history retrieval. Messages are
// immutable and permanent; there is no update or delete.
type Service struct {
	store  store.MessageStore
	bus    bus.Publisher
	logger *slog.Logger
}

// New creates a conversation Service.
func New(s store.MessageStore, pub bus.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		bus:    pub,
		logger: logger.With("component", "conversation"),
	}
}

// Page is one backward page of history, newest first. Callers re-order
// ascending for display.
type Page struct {
	Messages   []*store.Message
	NextCursor string // empty when no older messages remain
}

// Append stores a message and returns the stored record synchronously so the
// sender can reconcile its optimistic local echo. If dedupToken matches a
// previously accepted append by the same sender, the original message is
// returned instead of creating a duplicate: retries over an unreliable
// channel are safe exactly when they carry a token.
func (s *Service) Append(ctx context.Context, senderID, receiverID, body, dedupToken string) (*store.Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, fmt.Errorf("sender and receiver ids are required")
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("sender and receiver must differ")
	}
	if body == "" {
		return nil, fmt.Errorf("message body is required")
	}

	msg := &store.Message{
		ID:              uuid.New().String(),
		SenderID:        senderID,
		ReceiverID:      receiverID,
		ConversationKey: store.PairKey(senderID, receiverID),
		Body:            body,
		DedupToken:      dedupToken,
		CreatedAt:       time.Now().UTC(),
	}

	err := s.store.AppendMessage(ctx, msg)
	if errors.Is(err, store.ErrDuplicateSend) {
		// Idempotent retry: hand back what the first attempt stored.
		original, lookupErr := s.store.GetMessageByDedupToken(ctx, senderID, dedupToken)
		if lookupErr != nil {
			return nil, fmt.Errorf("resolving duplicate send: %w", lookupErr)
		}
		s.logger.Debug("duplicate send resolved to original",
			"sender_id", senderID,
			"dedup_token", dedupToken,
			"message_id", original.ID)
		return original, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.logger.Debug("message appended",
		"message_id", msg.ID,
		"conversation_key", msg.ConversationKey)

	if s.bus != nil {
		topic := bus.ConversationTopic(senderID, receiverID)
		stored := *msg
		s.bus.Publish(topic, bus.MessageEvent(uuid.NewString(), topic, &stored))
	}
	return msg, nil
}

// History returns a page of messages between two participants, newest first
// for incremental backward paging. Lookup is symmetric in the participant
// arguments.
func (s *Service) History(ctx context.Context, participantA, participantB string, limit int, beforeCursor string) (*Page, error) {
	if participantA == "" || participantB == "" {
		return nil, fmt.Errorf("both participant ids are required")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	msgs, next, err := s.store.ListMessages(ctx, store.PairKey(participantA, participantB), limit, beforeCursor)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return &Page{Messages: msgs, NextCursor: next}, nil
}

// Ascending reverses a newest-first page in place for display order:
// createdAt ascending, id as tie-break (already the store's sort, inverted).
func Ascending(msgs []*store.Message) []*store.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
