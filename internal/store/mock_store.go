// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.Mutex
	requests map[string]*ChatRequest // keyed by request ID
	messages []*Message              // append order
	dedup    map[string]*Message     // keyed by "senderID:token"
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		requests: make(map[string]*ChatRequest),
		dedup:    make(map[string]*Message),
	}
}

// CreateRequest stores a new request.
func (m *MockStore) CreateRequest(ctx context.Context, req *ChatRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy to avoid external modification
	r := *req
	m.requests[r.ID] = &r
	return nil
}

// GetRequest retrieves a request by ID.
func (m *MockStore) GetRequest(ctx context.Context, id string) (*ChatRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := *req
	return &r, nil
}

// UpdateRequestStatus performs the guarded transition under the store mutex,
// mirroring the conditional UPDATE of the SQLite implementation.
func (m *MockStore) UpdateRequestStatus(ctx context.Context, id string, from, to Status, adminID string) (*ChatRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != from {
		return nil, ErrStatusConflict
	}

	req.Status = to
	if adminID != "" {
		req.AdminID = adminID
	}
	req.UpdatedAt = time.Now().UTC()

	r := *req
	return &r, nil
}

// ListRequests returns requests with the given status, newest-created first.
func (m *MockStore) ListRequests(ctx context.Context, status Status, category string, limit int) ([]*ChatRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var out []*ChatRequest
	for _, req := range m.requests {
		if req.Status != status {
			continue
		}
		if category != "" && req.Category != category {
			continue
		}
		r := *req
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendMessage stores a new message, enforcing dedup token uniqueness.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.DedupToken != "" {
		key := msg.SenderID + ":" + msg.DedupToken
		if _, seen := m.dedup[key]; seen {
			return ErrDuplicateSend
		}
		stored := *msg
		m.dedup[key] = &stored
	}

	stored := *msg
	m.messages = append(m.messages, &stored)
	return nil
}

// GetMessageByDedupToken returns the message accepted for (sender, token).
func (m *MockStore) GetMessageByDedupToken(ctx context.Context, senderID, token string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		return nil, ErrNotFound
	}
	msg, ok := m.dedup[senderID+":"+token]
	if !ok {
		return nil, ErrNotFound
	}
	out := *msg
	return &out, nil
}

// ListMessages returns a page of messages for a conversation, newest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationKey string, limit int, beforeCursor string) ([]*Message, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var all []*Message
	for _, msg := range m.messages {
		if msg.ConversationKey == conversationKey {
			out := *msg
			all = append(all, &out)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if beforeCursor != "" {
		createdAt, id, err := decodeCursor(beforeCursor)
		if err != nil {
			return nil, "", err
		}
		var filtered []*Message
		for _, msg := range all {
			if msg.CreatedAt.Before(createdAt) ||
				(msg.CreatedAt.Equal(createdAt) && msg.ID < id) {
				filtered = append(filtered, msg)
			}
		}
		all = filtered
	}

	var nextCursor string
	if len(all) > limit {
		all = all[:limit]
		last := all[len(all)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return all, nextCursor, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
