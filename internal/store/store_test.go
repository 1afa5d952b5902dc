// ABOUTME: Tests for shared store types and helpers
// ABOUTME: Covers PairKey symmetry, status validation, cursor round-trips

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKey_Symmetric(t *testing.T) {
	assert.Equal(t, PairKey("user-1", "admin-1"), PairKey("admin-1", "user-1"))
	assert.Equal(t, "admin-1|user-1", PairKey("user-1", "admin-1"))
}

func TestPairKey_DistinctPairsDistinctKeys(t *testing.T) {
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusOpen.Valid())
	assert.True(t, StatusAccepted.Valid())
	assert.True(t, StatusClosed.Valid())
	assert.False(t, Status("pending").Valid())
	assert.False(t, Status("").Valid())
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	cursor := encodeCursor(at, "msg-42")

	gotAt, gotID, err := decodeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, "msg-42", gotID)
}

func TestDecodeCursor_Malformed(t *testing.T) {
	_, _, err := decodeCursor("not-base64!")
	assert.Error(t, err)

	_, _, err = decodeCursor("aGVsbG8=") // valid base64, no separator
	assert.Error(t, err)
}

// MockStore must satisfy the same contracts the SQLite store does, since
// service tests run against it.
func TestMockStore_ImplementsStore(t *testing.T) {
	var _ Store = NewMockStore()
}

func TestMockStore_GuardedUpdateRaces(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, m.CreateRequest(ctx, &ChatRequest{
		ID:          "req-1",
		RequesterID: "user-1",
		Status:      StatusOpen,
		Category:    "doctor",
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for range 8 {
		wg.Go(func() {
			_, err := m.UpdateRequestStatus(ctx, "req-1", StatusOpen, StatusAccepted, "admin-x")
			results <- err
		})
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrStatusConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, conflicts)
}

func TestMockStore_DedupAndPaging(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := range 4 {
		require.NoError(t, m.AppendMessage(ctx, &Message{
			ID:              string(rune('a' + i)),
			SenderID:        "u1",
			ReceiverID:      "u2",
			ConversationKey: PairKey("u1", "u2"),
			Body:            "m",
			DedupToken:      string(rune('a' + i)),
			CreatedAt:       base.Add(time.Duration(i) * time.Second),
		}))
	}

	err := m.AppendMessage(ctx, &Message{
		ID: "dup", SenderID: "u1", ReceiverID: "u2",
		ConversationKey: PairKey("u1", "u2"), DedupToken: "a",
		CreatedAt: base,
	})
	assert.ErrorIs(t, err, ErrDuplicateSend)

	page, cursor, err := m.ListMessages(ctx, PairKey("u1", "u2"), 3, "")
	require.NoError(t, err)
	assert.Len(t, page, 3)
	require.NotEmpty(t, cursor)

	rest, cursor, err := m.ListMessages(ctx, PairKey("u1", "u2"), 3, cursor)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.Empty(t, cursor)
}
