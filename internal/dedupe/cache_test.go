// ABOUTME: Tests for the dedupe cache
// ABOUTME: Covers check-and-mark semantics, TTL expiry, size bounding, concurrency

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark_FirstSeenThenDuplicate(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("evt-1"), "first sighting is not a duplicate")
	assert.True(t, c.CheckAndMark("evt-1"), "second sighting is a duplicate")
	assert.False(t, c.CheckAndMark("evt-2"))
}

func TestCheckAndMark_ExpiredKeyIsNewAgain(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	c.Mark("evt-1")
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.CheckAndMark("evt-1"), "expired key should read as unseen")
}

func TestMark_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := range 3 {
		c.Mark(fmt.Sprintf("key-%d", i))
		time.Sleep(time.Millisecond)
	}
	c.Mark("key-3")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.CheckAndMark("key-0"), "oldest key should have been evicted")
}

func TestRemoveExpired(t *testing.T) {
	c := New(5*time.Millisecond, 100)
	defer c.Close()

	c.Mark("a")
	c.Mark("b")
	time.Sleep(10 * time.Millisecond)
	c.removeExpired()

	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for j := range 100 {
				c.CheckAndMark(fmt.Sprintf("key-%d-%d", i, j))
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Len())
}

func TestClose_Idempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
