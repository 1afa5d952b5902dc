// ABOUTME: Store interface and data types for first-aid-app persistence
// ABOUTME: Defines ChatRequest, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned when a guarded status update finds the request
// in a different status than expected. The caller must re-read the request to
// learn the current state.
var ErrStatusConflict = errors.New("request status changed concurrently")

// ErrDuplicateSend is returned when a message append reuses a dedup token that
// was already accepted for the same sender. The original message is still
// retrievable via GetMessageByDedupToken.
var ErrDuplicateSend = errors.New("dedup token already used")

// Status is the lifecycle state of a ChatRequest.
type Status string

const (
	StatusOpen     Status = "open"
	StatusAccepted Status = "accepted"
	StatusClosed   Status = "closed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAccepted, StatusClosed:
		return true
	}
	return false
}

// ChatRequest represents a request for live assistance. It is created by a
// requester with status open, claimed by exactly one admin, and eventually
// closed. Closed requests are never deleted; they remain as an audit record.
type ChatRequest struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requester_id"`
	AdminID     string    `json:"admin_id,omitempty"` // empty iff Status == StatusOpen
	Status      Status    `json:"status"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is a single immutable chat message between two participants.
type Message struct {
	ID              string    `json:"id"`
	SenderID        string    `json:"sender_id"`
	ReceiverID      string    `json:"receiver_id"`
	ConversationKey string    `json:"conversation_key"` // PairKey(SenderID, ReceiverID)
	Body            string    `json:"body"`
	DedupToken      string    `json:"dedup_token,omitempty"` // client-generated idempotency key, may be empty
	CreatedAt       time.Time `json:"created_at"`
}

// PairKey derives the order-independent conversation key for two participants.
// PairKey(a, b) == PairKey(b, a), so lookups are symmetric regardless of which
// side queries.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

// PairPeer returns the other participant of a conversation key. The second
// return is false when the key is malformed or does not involve the given
// participant.
func PairPeer(key, participant string) (string, bool) {
	a, b, ok := strings.Cut(key, "|")
	if !ok {
		return "", false
	}
	switch participant {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// RequestStore defines request lifecycle persistence.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *ChatRequest) error
	GetRequest(ctx context.Context, id string) (*ChatRequest, error)

	// UpdateRequestStatus performs a guarded transition: the row is updated
	// only if its status still equals from at write time. adminID, when
	// non-empty, is assigned along with the transition. Returns the updated
	// request, ErrNotFound if the request does not exist, or
	// ErrStatusConflict if the guard failed.
	UpdateRequestStatus(ctx context.Context, id string, from, to Status, adminID string) (*ChatRequest, error)

	// ListRequests returns requests with the given status, newest-created
	// first. category filters when non-empty. limit caps the result size.
	ListRequests(ctx context.Context, status Status, category string, limit int) ([]*ChatRequest, error)
}

// MessageStore defines append-only message persistence.
type MessageStore interface {
	// AppendMessage stores a new message. If msg.DedupToken is non-empty and
	// was already accepted for msg.SenderID, nothing is stored and
	// ErrDuplicateSend is returned.
	AppendMessage(ctx context.Context, msg *Message) error

	// GetMessageByDedupToken returns the message previously accepted for the
	// given sender and token, or ErrNotFound.
	GetMessageByDedupToken(ctx context.Context, senderID, token string) (*Message, error)

	// ListMessages returns a page of messages for a conversation key, newest
	// first for backward paging. beforeCursor is an opaque cursor from a
	// previous page, empty for the newest page. nextCursor is empty when no
	// older messages remain.
	ListMessages(ctx context.Context, conversationKey string, limit int, beforeCursor string) (msgs []*Message, nextCursor string, err error)
}

// Store combines all persistence interfaces.
type Store interface {
	RequestStore
	MessageStore

	// Close releases any resources held by the store
	Close() error
}
