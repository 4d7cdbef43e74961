// Package slotcache implements SlotCache: the per-slot coalescing cache that
// absorbs a validator's multiple intra-slot writes per entity and emits only
// the last observed value when the slot is confirmed (spec.md §4.4).
//
// Grounded on internal/dedup/blockindex.go's per-hash lock map plus
// background TTL janitor — here expressed as a two-level map (outer:
// slot → bucket, via an expirable LRU for the TTL safety net; inner: a
// per-bucket mutex guarding EntityKey → bytes) so that flushing one slot
// never blocks ingest into another (spec.md §9).
package slotcache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/PayRpc/geyser-sprint/internal/metrics"
)

// EntityKind distinguishes the three EntityKey variants spec.md names.
type EntityKind uint8

const (
	EntityAccount EntityKind = iota
	EntityTransaction
	EntityBlockMetadata
)

// EntityKey identifies one coalescing slot within a slot bucket.
type EntityKey struct {
	Kind EntityKind
	ID   string // pubkey, signature, or "" for BlockMetadata
}

// AccountKey builds the EntityKey for an account update.
func AccountKey(pubkey string) EntityKey { return EntityKey{Kind: EntityAccount, ID: pubkey} }

// TransactionKey builds the EntityKey for a transaction update.
func TransactionKey(signature string) EntityKey {
	return EntityKey{Kind: EntityTransaction, ID: signature}
}

// BlockMetadataKey is the single EntityKey shared by all block-metadata
// updates within one slot.
func BlockMetadataKey() EntityKey { return EntityKey{Kind: EntityBlockMetadata} }

// Sink is the minimal surface Flush needs to emit drained records; FanOut
// satisfies it.
type Sink interface {
	Publish(record []byte) error
}

// slotBucket is the inner map for one slot: EntityKey → latest serialized
// record, behind its own exclusive lock so that a flush of one slot never
// contends with a put into another.
type slotBucket struct {
	mu      sync.Mutex
	entries map[EntityKey][]byte
	flushed atomic.Bool // set by Flush so its Remove is not counted as a TTL eviction
}

// SlotCache is the outer slot → bucket map. The outer map itself is an
// expirable LRU so that buckets which never reach Confirmed are evicted by
// wall-clock TTL as a safety net (spec.md §4.4), independent of the
// confirmation-triggered Flush path.
type SlotCache struct {
	buckets *lru.LRU[uint64, *slotBucket]
	flush   singleflight.Group
	metrics *metrics.Metrics

	mu sync.Mutex // guards creation of a bucket in buckets (LRU.Get/Add race)
}

// New constructs a SlotCache whose outer map evicts slots older than ttl
// (spec.md §4.4 default: 20 minutes).
func New(ttl time.Duration, m *metrics.Metrics) *SlotCache {
	sc := &SlotCache{metrics: m}
	sc.buckets = lru.NewLRU[uint64, *slotBucket](0, func(slot uint64, b *slotBucket) {
		if m != nil && !b.flushed.Load() {
			m.IncCacheTTLEvicted()
		}
	}, ttl)
	return sc
}

func (sc *SlotCache) bucketFor(slot uint64) *slotBucket {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if b, ok := sc.buckets.Get(slot); ok {
		return b
	}
	b := &slotBucket{entries: make(map[EntityKey][]byte)}
	sc.buckets.Add(slot, b)
	return b
}

// Put inserts or overwrites key's entry within slot's bucket, creating the
// bucket if absent (spec.md §4.4).
func (sc *SlotCache) Put(slot uint64, key EntityKey, record []byte) {
	bucket := sc.bucketFor(slot)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	bucket.entries[key] = record
}

// Flush drains slot's bucket under its exclusive lock, publishing each
// entry's bytes to sink, then removes the slot from the outer map. Drain
// order is unspecified. Concurrent Flush calls for the same slot collapse
// onto a single drain via singleflight, so a duplicate confirmation
// notification cannot double-publish or race an empty drain.
func (sc *SlotCache) Flush(slot uint64, sink Sink) error {
	_, err, _ := sc.flush.Do(flushKey(slot), func() (interface{}, error) {
		sc.mu.Lock()
		bucket, ok := sc.buckets.Get(slot)
		if ok {
			bucket.flushed.Store(true)
			sc.buckets.Remove(slot)
		}
		sc.mu.Unlock()
		if !ok {
			return nil, nil
		}

		bucket.mu.Lock()
		entries := bucket.entries
		bucket.entries = nil
		bucket.mu.Unlock()

		for _, record := range entries {
			if pubErr := sink.Publish(record); pubErr != nil {
				return nil, pubErr
			}
		}
		return nil, nil
	})
	return err
}

func flushKey(slot uint64) string {
	// uint64 slot numbers never collide once rendered decimal; singleflight
	// keys are plain strings.
	buf := make([]byte, 0, 20)
	buf = appendUint(buf, slot)
	return string(buf)
}

func appendUint(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(buf, tmp[i:]...)
}
