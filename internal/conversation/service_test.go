// ABOUTME: Tests for the conversation Service
// ABOUTME: Covers idempotent append, symmetric history, paging, broadcast

package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mart-code/first-aid-app/internal/bus"
	"github.com/mart-code/first-aid-app/internal/store"
)

func newTestService(t *testing.T) (*Service, *bus.Broadcaster) {
	t.Helper()
	b := bus.NewBroadcaster(0, nil)
	t.Cleanup(b.Close)
	return New(store.NewMockStore(), b, nil), b
}

func TestAppend_StoresAndReturnsMessage(t *testing.T) {
	svc, _ := newTestService(t)

	msg, err := svc.Append(context.Background(), "user-1", "admin-1", "hello", "tok-1")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "user-1", msg.SenderID)
	assert.Equal(t, "admin-1", msg.ReceiverID)
	assert.Equal(t, store.PairKey("user-1", "admin-1"), msg.ConversationKey)
	assert.Equal(t, "hello", msg.Body)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestAppend_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "", "admin-1", "hi", "t")
	assert.Error(t, err)
	_, err = svc.Append(ctx, "user-1", "", "hi", "t")
	assert.Error(t, err)
	_, err = svc.Append(ctx, "user-1", "user-1", "hi", "t")
	assert.Error(t, err)
	_, err = svc.Append(ctx, "user-1", "admin-1", "", "t")
	assert.Error(t, err)
}

func TestAppend_RetryWithSameTokenYieldsOriginal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Append(ctx, "user-1", "admin-1", "hello", "tok-1")
	require.NoError(t, err)

	// Simulated timeout retry: same sender, same token
	retried, err := svc.Append(ctx, "user-1", "admin-1", "hello", "tok-1")
	require.NoError(t, err, "duplicate send is a successful no-op, not an error")
	assert.Equal(t, first.ID, retried.ID)
	assert.Equal(t, "hello", retried.Body)

	page, err := svc.History(ctx, "user-1", "admin-1", 50, "")
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1, "retry must not store a second message")
}

func TestHistory_SymmetricInParticipants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "user-1", "admin-1", "hi", "t1")
	require.NoError(t, err)
	_, err = svc.Append(ctx, "admin-1", "user-1", "hello", "t2")
	require.NoError(t, err)

	ab, err := svc.History(ctx, "user-1", "admin-1", 50, "")
	require.NoError(t, err)
	ba, err := svc.History(ctx, "admin-1", "user-1", 50, "")
	require.NoError(t, err)

	require.Equal(t, len(ab.Messages), len(ba.Messages))
	for i := range ab.Messages {
		assert.Equal(t, ab.Messages[i].ID, ba.Messages[i].ID)
	}
}

func TestHistory_PagesBackward(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := svc.Append(ctx, "user-1", "admin-1", fmt.Sprintf("m%d", i), fmt.Sprintf("tok-%d", i))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	page1, err := svc.History(ctx, "user-1", "admin-1", 2, "")
	require.NoError(t, err)
	require.Len(t, page1.Messages, 2)
	assert.Equal(t, "m4", page1.Messages[0].Body, "newest first")
	require.NotEmpty(t, page1.NextCursor)

	page2, err := svc.History(ctx, "user-1", "admin-1", 2, page1.NextCursor)
	require.NoError(t, err)
	require.Len(t, page2.Messages, 2)
	assert.Equal(t, "m2", page2.Messages[0].Body)

	page3, err := svc.History(ctx, "user-1", "admin-1", 2, page2.NextCursor)
	require.NoError(t, err)
	require.Len(t, page3.Messages, 1)
	assert.Equal(t, "m0", page3.Messages[0].Body)
	assert.Empty(t, page3.NextCursor)
}

func TestAppend_BroadcastsToConversationTopic(t *testing.T) {
	svc, b := newTestService(t)

	ch, _ := b.Subscribe(t.Context(), bus.ConversationTopic("user-1", "admin-1"))

	msg, err := svc.Append(context.Background(), "user-1", "admin-1", "hello", "tok-1")
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, bus.EventTypeMessage, evt.Type)
		require.NotNil(t, evt.Message)
		assert.Equal(t, msg.ID, evt.Message.ID)
		assert.Equal(t, "hello", evt.Message.Body)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestAscending_ReversesNewestFirstPage(t *testing.T) {
	msgs := []*store.Message{
		{ID: "c"}, {ID: "b"}, {ID: "a"},
	}
	out := Ascending(msgs)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "c", out[2].ID)
}
