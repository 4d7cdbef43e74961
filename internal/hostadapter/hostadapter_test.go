package hostadapter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PayRpc/geyser-sprint/internal/fanout"
	"github.com/PayRpc/geyser-sprint/internal/metrics"
	"github.com/PayRpc/geyser-sprint/internal/serializer"
	"github.com/PayRpc/geyser-sprint/internal/slotcache"
)

func newHarness(t *testing.T, cfg Config) (*Adapter, *fanout.FanOut, net.Conn) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	fo := fanout.New(1, false, 0, m, nil)
	require.NoError(t, fo.Bind(0, 8))
	t.Cleanup(func() { fo.Shutdown(context.Background()) })

	conn, err := net.Dial("tcp", fanoutAddr(t, fo))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	time.Sleep(50 * time.Millisecond)

	cache := slotcache.New(20*time.Minute, m)
	filters := NewGeyserFilters(nil, nil)
	adapter := New(cfg, fo, cache, filters, m, nil)
	return adapter, fo, conn
}

func fanoutAddr(t *testing.T, fo *fanout.FanOut) string {
	t.Helper()
	addr := fo.ListenerAddr()
	require.NotEmpty(t, addr)
	return addr
}

// Scenario 6: skip vote txs.
func TestSkipVoteTxs(t *testing.T) {
	adapter, _, conn := newHarness(t, Config{SendTransactions: true, SkipVoteTxs: true})

	err := adapter.OnTransaction(serializer.TransactionUpdate{
		Signature: "votesig",
		Slot:      1,
		Status:    serializer.TransactionStatus{Kind: serializer.TxStatusOk},
	}, "", nil, true /* isVote */)
	require.NoError(t, err)

	// nothing should ever arrive; give the (absent) writer a moment, then
	// assert the connection is still open and idle.
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, readErr := conn.Read(buf)
	assert.Error(t, readErr) // timeout, not data
}

func TestSendsNonVoteTxs(t *testing.T) {
	adapter, _, conn := newHarness(t, Config{SendTransactions: true, SkipVoteTxs: true})

	err := adapter.OnTransaction(serializer.TransactionUpdate{
		Signature: "sig1",
		Slot:      1,
		Status:    serializer.TransactionStatus{Kind: serializer.TxStatusOk},
	}, "", nil, false)
	require.NoError(t, err)
	// the transaction is held in the SlotCache until its slot is flushed
	require.NoError(t, adapter.cache.Flush(1, adapter.fanout))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	require.NoError(t, err)
}

func TestSkipDeployTxs(t *testing.T) {
	adapter, _, conn := newHarness(t, Config{SendTransactions: true, SkipDeployTxs: true})
	firstByte := byte(0)

	err := adapter.OnTransaction(serializer.TransactionUpdate{
		Signature: "deploysig",
		Slot:      1,
		Status:    serializer.TransactionStatus{Kind: serializer.TxStatusOk},
	}, "BPFLoader2111111111111111111111111111111111", &firstByte, false)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, readErr := conn.Read(buf)
	assert.Error(t, readErr)
}

func TestAccountUpdateSkipsStartup(t *testing.T) {
	adapter, _, _ := newHarness(t, Config{SendAccounts: true})
	err := adapter.OnAccountUpdate(serializer.AccountUpdate{Pubkey: "p1", Slot: 1}, true /* isStartup */)
	require.NoError(t, err)
}

func TestAccountUpdateAppliesRelevanceFilter(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	fo := fanout.New(1, false, 0, m, nil)
	require.NoError(t, fo.Bind(0, 8))
	t.Cleanup(func() { fo.Shutdown(context.Background()) })

	conn, err := net.Dial("tcp", fanoutAddr(t, fo))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	time.Sleep(50 * time.Millisecond)

	cache := slotcache.New(20*time.Minute, m)
	onlyOwner := func(pubkey, owner string) bool { return owner == "wanted-owner" }
	filters := NewGeyserFilters(onlyOwner, nil)
	adapter := New(Config{SendAccounts: true}, fo, cache, filters, m, nil)

	require.NoError(t, adapter.OnAccountUpdate(serializer.AccountUpdate{
		Pubkey: "p1", Owner: "other-owner", Slot: 1,
	}, false))

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, readErr := conn.Read(buf)
	assert.Error(t, readErr) // filtered out, nothing buffered

	require.NoError(t, adapter.OnAccountUpdate(serializer.AccountUpdate{
		Pubkey: "p2", Owner: "wanted-owner", Slot: 1,
	}, false))
	// the account update is held in the SlotCache until its slot is flushed
	require.NoError(t, adapter.cache.Flush(1, adapter.fanout))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(buf)
	require.NoError(t, err)
}

func TestSlotConfirmedFlushesCache(t *testing.T) {
	adapter, _, conn := newHarness(t, Config{SendAccounts: true})

	require.NoError(t, adapter.OnAccountUpdate(serializer.AccountUpdate{Pubkey: "p1", Slot: 9}, false))
	require.NoError(t, adapter.OnSlotStatus(serializer.SlotUpdate{Slot: 9, Status: serializer.SlotConfirmed}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	_, err := conn.Read(buf)
	require.NoError(t, err)
}
