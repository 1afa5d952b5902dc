// ABOUTME: In-process Backend wiring the request registry and conversation service
// ABOUTME: Lets a Client run against the services directly, without the HTTP surface

package sync

import (
	"context"

	"github.com/mart-code/first-aid-app/internal/conversation"
	"github.com/mart-code/first-aid-app/internal/request"
	"github.com/mart-code/first-aid-app/internal/store"
)

// LocalBackend adapts the in-process services to the Backend interface.
type LocalBackend struct {
	Registry      *request.Registry
	Conversations *conversation.Service
}

func (b *LocalBackend) GetRequest(ctx context.Context, id string) (*store.ChatRequest, error) {
	return b.Registry.Get(ctx, id)
}

func (b *LocalBackend) ListOpen(ctx context.Context, category string) ([]*store.ChatRequest, error) {
	return b.Registry.List(ctx, store.StatusOpen, category, 0)
}

func (b *LocalBackend) History(ctx context.Context, participantA, participantB string, limit int, beforeCursor string) (*conversation.Page, error) {
	return b.Conversations.History(ctx, participantA, participantB, limit, beforeCursor)
}

func (b *LocalBackend) Append(ctx context.Context, senderID, receiverID, body, dedupToken string) (*store.Message, error) {
	return b.Conversations.Append(ctx, senderID, receiverID, body, dedupToken)
}
