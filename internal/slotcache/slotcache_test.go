package slotcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	records [][]byte
}

func (f *fakeSink) Publish(record []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, append([]byte(nil), record...))
	return nil
}

// Scenario 4: SlotCache confirm.
func TestFlushCoalesces(t *testing.T) {
	sc := New(20*time.Minute, nil)

	sc.Put(7, AccountKey("A"), []byte("A-v1"))
	sc.Put(7, AccountKey("B"), []byte("B-v1"))
	sc.Put(7, AccountKey("C"), []byte("C-v1"))
	sc.Put(7, AccountKey("A"), []byte("A-v2"))

	sink := &fakeSink{}
	require.NoError(t, sc.Flush(7, sink))

	assert.Len(t, sink.records, 3)
	var sawAV2 bool
	for _, r := range sink.records {
		if string(r) == "A-v2" {
			sawAV2 = true
		}
		assert.NotEqual(t, "A-v1", string(r), "stale write must be coalesced away")
	}
	assert.True(t, sawAV2)
}

func TestFlushEmptySlotIsNoop(t *testing.T) {
	sc := New(20*time.Minute, nil)
	sink := &fakeSink{}
	require.NoError(t, sc.Flush(99, sink))
	assert.Empty(t, sink.records)
}

func TestFlushRemovesSlot(t *testing.T) {
	sc := New(20*time.Minute, nil)
	sc.Put(1, AccountKey("A"), []byte("v1"))
	sink := &fakeSink{}
	require.NoError(t, sc.Flush(1, sink))

	// a second flush of the same slot finds nothing to publish
	require.NoError(t, sc.Flush(1, sink))
	assert.Len(t, sink.records, 1)
}

func TestConcurrentFlushCollapsesViaSingleflight(t *testing.T) {
	sc := New(20*time.Minute, nil)
	sc.Put(5, AccountKey("A"), []byte("v1"))
	sc.Put(5, AccountKey("B"), []byte("v2"))

	sink := &fakeSink{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sc.Flush(5, sink)
		}()
	}
	wg.Wait()

	// regardless of how many goroutines raced the confirmation, each entry
	// is published at most once.
	assert.LessOrEqual(t, len(sink.records), 2)
}

func TestDistinctSlotsIndependent(t *testing.T) {
	sc := New(20*time.Minute, nil)
	sc.Put(1, AccountKey("A"), []byte("slot1"))
	sc.Put(2, AccountKey("A"), []byte("slot2"))

	sink := &fakeSink{}
	require.NoError(t, sc.Flush(1, sink))
	assert.Equal(t, [][]byte{[]byte("slot1")}, sink.records)

	require.NoError(t, sc.Flush(2, sink))
	assert.Len(t, sink.records, 2)
}
