// Package fanout implements FanOut (the spec's TcpSender): the shared
// TcpBuffer, the subscriber set, the accept loop, per-subscriber writer
// goroutines, and the broadcast/strict-delivery algorithms described in
// spec.md §4.2–§4.3. Grounded on internal/broadcaster/broadcaster.go's
// subscriber-map-under-RWMutex shape and the original src/sender.rs
// try_send/classify algorithm.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/PayRpc/geyser-sprint/internal/metrics"
	"github.com/PayRpc/geyser-sprint/internal/queue"
	"github.com/PayRpc/geyser-sprint/internal/wire"
)

// SendError is returned by PublishBatch when one or more subscribers did not
// cleanly receive a batch. It aggregates counts rather than reporting one
// error per subscriber (spec.md §9: "this spec adopts the aggregated form").
type SendError struct {
	Full         int
	Disconnected int
}

func (e *SendError) Error() string {
	switch {
	case e.Full > 0 && e.Disconnected > 0:
		return fmt.Sprintf("fanout: %d subscriber(s) full, %d disconnected", e.Full, e.Disconnected)
	case e.Full > 0:
		return fmt.Sprintf("fanout: %d subscriber(s) full", e.Full)
	default:
		return fmt.Sprintf("fanout: %d subscriber(s) disconnected", e.Disconnected)
	}
}

// ErrAlreadyBound is returned by Bind when called more than once on the same
// FanOut instance (spec.md §4.2: "idempotent per instance (second call fails)").
var ErrAlreadyBound = errors.New("fanout: already bound")

// tcpBuffer is the staging area owned by FanOut: an ordered sequence of
// already-framed records plus their summed byte length.
type tcpBuffer struct {
	mu      sync.Mutex
	frames  [][]byte
	bytelen int
}

func (b *tcpBuffer) append(framed []byte) (total int, frames [][]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, framed)
	b.bytelen += len(framed)
	return b.bytelen, b.frames
}

// drain clears the buffer and returns the batch bytes for what was staged,
// or (nil, false) if nothing was staged. Append and drain share the same
// lock so a record is never split across two batches.
func (b *tcpBuffer) drain() ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil, false, nil
	}
	batch, err := wire.Batch(b.frames, b.bytelen)
	b.frames = nil
	b.bytelen = 0
	if err != nil {
		return nil, true, err
	}
	return batch, true, nil
}

type subscriber struct {
	id    uint64
	queue *queue.SubscriberQueue
	conn  net.Conn
}

// FanOut accepts TCP subscribers and broadcasts batches of framed records to
// all of them with per-subscriber backpressure.
type FanOut struct {
	batchMaxBytes  int
	strictDelivery bool
	minSubscribers int

	buffer tcpBuffer

	subsMu sync.RWMutex
	subs   map[uint64]*subscriber
	nextID atomic.Uint64

	listener net.Listener
	bound    atomic.Bool

	metrics *metrics.Metrics
	logger  *zap.Logger

	wg sync.WaitGroup
}

// New constructs a FanOut. batchMaxBytes is the size threshold that triggers
// an automatic flush; strictDelivery enables indefinite 1s-backoff retry on
// PublishBatch failure; minSubscribers gates broadcast until at least that
// many subscribers are connected (0 disables the gate).
func New(batchMaxBytes int, strictDelivery bool, minSubscribers int, m *metrics.Metrics, logger *zap.Logger) *FanOut {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanOut{
		batchMaxBytes:  batchMaxBytes,
		strictDelivery: strictDelivery,
		minSubscribers: minSubscribers,
		subs:           make(map[uint64]*subscriber),
		metrics:        m,
		logger:         logger,
	}
}

// Bind starts the accept loop on port with queueCapacity-batch subscriber
// queues. Idempotent per instance: a second call returns ErrAlreadyBound.
func (f *FanOut) Bind(port int, queueCapacity int) error {
	if !f.bound.CompareAndSwap(false, true) {
		return ErrAlreadyBound
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		f.bound.Store(false)
		return fmt.Errorf("fanout: bind: %w", err)
	}
	f.listener = ln
	f.wg.Add(1)
	go f.acceptLoop(queueCapacity)
	return nil
}

func (f *FanOut) acceptLoop(queueCapacity int) {
	defer f.wg.Done()
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			f.logger.Info("fanout accept loop exiting", zap.Error(err))
			return
		}
		sub := &subscriber{
			id:    f.nextID.Add(1),
			queue: queue.New(queueCapacity),
			conn:  conn,
		}
		f.subsMu.Lock()
		f.subs[sub.id] = sub
		f.subsMu.Unlock()
		f.logger.Debug("subscriber connected", zap.Uint64("subscriber_id", sub.id))

		f.wg.Add(1)
		go f.writerLoop(sub)
	}
}

// writerLoop drains sub's queue and writes each batch with a single
// write_all; on any write error it exits, removing itself from the
// subscriber set (spec.md §4.3).
func (f *FanOut) writerLoop(sub *subscriber) {
	defer f.wg.Done()
	defer sub.conn.Close()
	for {
		batch, ok := sub.queue.Recv()
		if !ok {
			return
		}
		if _, err := sub.conn.Write(batch); err != nil {
			f.logger.Debug("subscriber write failed, removing",
				zap.Uint64("subscriber_id", sub.id), zap.Error(err))
			sub.queue.Close()
			f.subsMu.Lock()
			delete(f.subs, sub.id)
			f.subsMu.Unlock()
			return
		}
	}
}

// ListenerAddr returns the bound listener's address, or "" if Bind has not
// been called yet. Useful for tests and for logging the resolved port when
// Bind was called with port 0.
func (f *FanOut) ListenerAddr() string {
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

// SubscriberCount returns the number of currently connected subscribers.
func (f *FanOut) SubscriberCount() int {
	f.subsMu.RLock()
	defer f.subsMu.RUnlock()
	return len(f.subs)
}

// Publish frames record, appends it to the shared TcpBuffer, and — if the
// running total crosses batchMaxBytes — drains the buffer and broadcasts in
// the same call (spec.md §4.2).
func (f *FanOut) Publish(record []byte) error {
	framed, err := wire.Frame(record)
	if err != nil {
		if f.metrics != nil {
			f.metrics.IncSerializeErrs()
		}
		return err
	}

	total, _ := f.buffer.append(framed)
	if total < f.batchMaxBytes {
		return nil
	}
	return f.flushAndBroadcast()
}

// MaybeFlush emits a batch from whatever is currently staged, regardless of
// the size threshold (spec.md §4.2).
func (f *FanOut) MaybeFlush() error {
	return f.flushAndBroadcast()
}

func (f *FanOut) flushAndBroadcast() error {
	batch, drained, err := f.buffer.drain()
	if err != nil {
		if f.metrics != nil {
			f.metrics.IncSerializeErrs()
		}
		return err
	}
	if !drained {
		return nil
	}
	return f.dispatch(batch)
}

// dispatch broadcasts batch, retrying indefinitely with a 1s backoff when
// strictDelivery is enabled and the broadcast did not fully succeed
// (spec.md §4.2: "intended for bulk snapshot phases").
func (f *FanOut) dispatch(batch []byte) error {
	err := f.PublishBatch(batch)
	if err == nil || !f.strictDelivery {
		return err
	}

	// ConstantBackOff never returns backoff.Stop, so Retry here retries
	// indefinitely at a fixed 1s interval (spec.md §4.2).
	b := backoff.NewConstantBackOff(1 * time.Second)
	return backoff.Retry(func() error {
		retryErr := f.PublishBatch(batch)
		if retryErr != nil {
			f.logger.Debug("strict delivery retrying", zap.Error(retryErr))
		}
		return retryErr
	}, b)
}

// PublishBatch broadcasts batch to every connected subscriber with a
// non-blocking try-send per subscriber (spec.md §4.2 broadcast algorithm).
func (f *FanOut) PublishBatch(batch []byte) error {
	if f.minSubscribers > 0 {
		for f.SubscriberCount() < f.minSubscribers {
			time.Sleep(1 * time.Second)
		}
	}

	var full, disconnected int
	f.subsMu.RLock()
	for _, sub := range f.subs {
		switch sub.queue.TrySend(batch) {
		case queue.SendFull:
			full++
		case queue.SendClosed:
			disconnected++
		}
	}
	f.subsMu.RUnlock()

	if f.metrics != nil {
		f.metrics.AddSendErrs(uint64(full))
		f.metrics.AddDisconnectErrs(uint64(disconnected))
	}

	if full > 0 {
		return &SendError{Full: full}
	}
	if disconnected > 0 {
		return &SendError{Disconnected: disconnected}
	}
	return nil
}

// Shutdown closes the listener and every subscriber queue, then waits for
// the accept loop and all writer goroutines to exit. Not part of spec.md's
// core contract (which promises no graceful drain) but needed so tests and
// cmd/geyserd can tear a FanOut down deterministically.
func (f *FanOut) Shutdown(ctx context.Context) error {
	if f.listener != nil {
		_ = f.listener.Close()
	}
	f.subsMu.Lock()
	for _, sub := range f.subs {
		sub.queue.Close()
	}
	f.subsMu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
