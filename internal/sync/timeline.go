// ABOUTME: Ordered message timeline with pending/confirmed entries
// ABOUTME: Pending entries reconcile strictly by dedup token; confirmed ones union by id

package sync

import (
	"sort"

	"github.com/mart-code/first-aid-app/internal/store"
)

// Entry is one message occupying a timeline slot. A pending entry is the
// optimistic local echo of a send that has not been confirmed yet; it carries
// a client-generated dedup token and client-local timestamps.
type Entry struct {
	Message *store.Message
	Pending bool
}

// Timeline is one conversation's display state: messages ascending by
// (createdAt, id). Merges are idempotent: applying the same authoritative
// message twice yields the same timeline as applying it once.
type Timeline struct {
	entries []*Entry
	byID    map[string]*Entry // confirmed entries only
	byToken map[string]*Entry // pending entries only, keyed by dedup token
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		byID:    make(map[string]*Entry),
		byToken: make(map[string]*Entry),
	}
}

// Seed replaces all confirmed entries with a fresh authoritative page,
// keeping unconfirmed pending sends in place. Used on mount and on resync
// after a delivery gap.
func (t *Timeline) Seed(msgs []*store.Message) {
	pending := make([]*Entry, 0, len(t.byToken))
	for _, e := range t.entries {
		if e.Pending {
			pending = append(pending, e)
		}
	}

	t.entries = pending
	t.byID = make(map[string]*Entry)
	for _, msg := range msgs {
		t.Insert(msg)
	}
}

// AddPending inserts an optimistic local echo tagged with its dedup token.
func (t *Timeline) AddPending(msg *store.Message) {
	if msg.DedupToken == "" {
		return
	}
	if _, exists := t.byToken[msg.DedupToken]; exists {
		return
	}
	e := &Entry{Message: msg, Pending: true}
	t.byToken[msg.DedupToken] = e
	t.insertOrdered(e)
}

// Insert applies an authoritative message. If a pending entry carries the
// same dedup token, the pending entry is replaced. Matching is by token only,
// never by field comparison, so the message is present exactly once.
// Otherwise it is an insert-or-ignore union by id.
func (t *Timeline) Insert(msg *store.Message) {
	if _, seen := t.byID[msg.ID]; seen {
		return
	}

	if msg.DedupToken != "" {
		if pending, ok := t.byToken[msg.DedupToken]; ok {
			t.remove(pending)
			delete(t.byToken, msg.DedupToken)
		}
	}

	e := &Entry{Message: msg}
	t.byID[msg.ID] = e
	t.insertOrdered(e)
}

// Messages returns the timeline in display order: createdAt ascending, id as
// tie-break. Pending entries sort by their client-local timestamps.
func (t *Timeline) Messages() []*Entry {
	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// PendingCount returns the number of unconfirmed local sends.
func (t *Timeline) PendingCount() int {
	return len(t.byToken)
}

// Len returns the total number of entries, pending included.
func (t *Timeline) Len() int {
	return len(t.entries)
}

func (t *Timeline) insertOrdered(e *Entry) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return entryLess(e, t.entries[i])
	})
	t.entries = append(t.entries, nil)
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

func (t *Timeline) remove(e *Entry) {
	for i, candidate := range t.entries {
		if candidate == e {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

func entryLess(a, b *Entry) bool {
	if !a.Message.CreatedAt.Equal(b.Message.CreatedAt) {
		return a.Message.CreatedAt.Before(b.Message.CreatedAt)
	}
	return a.Message.ID < b.Message.ID
}
