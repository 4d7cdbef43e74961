// Package hostadapter receives the validator's four callback kinds,
// translates them into canonical updates, applies filters, serializes, and
// routes to SlotCache or directly to FanOut (spec.md §4.6).
//
// Grounded on original src/geyser_plugin_hook.rs (the four-callback shape;
// fail-closed handling of unsupported account-info versions) and original
// src/filters.rs (RWMutex-guarded filter map, fail-open on a poisoned lock
// "in order not to lose anything").
package hostadapter

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/PayRpc/geyser-sprint/internal/fanout"
	"github.com/PayRpc/geyser-sprint/internal/metrics"
	"github.com/PayRpc/geyser-sprint/internal/serializer"
	"github.com/PayRpc/geyser-sprint/internal/slotcache"
	"github.com/PayRpc/geyser-sprint/internal/wire"
)

// The two BPF loader program ids skip_deploy_txs matches against (spec.md
// §4.6).
const (
	bpfLoaderProgramID            = "BPFLoader2111111111111111111111111111111111"
	bpfLoaderUpgradeableProgramID = "BPFLoaderUpgradeab1e11111111111111111111111"
)

// ErrUnsupportedAccountVersion names an account update in a schema version
// this adapter does not understand. Grounded on original
// src/geyser_plugin_hook.rs, which treats ReplicaAccountInfoVersions::V0_0_1
// as unsupported and only V0_0_2 as handled. AccountUpdate carries no version
// field, and no handler in this package returns this error.
var ErrUnsupportedAccountVersion = errors.New("hostadapter: unsupported account info version")

// Config carries the per-kind enables and filter toggles from spec.md §6.
type Config struct {
	SendAccounts     bool
	SendTransactions bool
	SendBlocks       bool
	SkipVoteTxs      bool
	SkipDeployTxs    bool
}

// RelevanceFilter decides whether an account (by pubkey/owner) is "of
// interest" to downstream subscribers. A nil filter means everything passes.
// Injected via NewGeyserFilters and consulted by Adapter.OnAccountUpdate
// (SPEC_FULL.md §4.10).
type RelevanceFilter func(pubkey, owner string) bool

// GeyserFilters holds the mutable, operator-controlled relevance predicate
// behind a RWMutex (original src/filters.rs). UpdateFilters is called by
// internal/control on a POST /filters request.
type GeyserFilters struct {
	mu       sync.RWMutex
	of       map[string]struct{} // pubkeys considered "of interest"
	accounts RelevanceFilter
	logger   *zap.Logger
}

// NewGeyserFilters constructs a filter set with an empty transaction
// relevance set (filtering disabled until UpdateFilters is called) and the
// given account-side relevance predicate. A nil accounts filter means every
// account update passes.
func NewGeyserFilters(accounts RelevanceFilter, logger *zap.Logger) *GeyserFilters {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeyserFilters{of: make(map[string]struct{}), accounts: accounts, logger: logger}
}

// UpdateFilters replaces the filter set wholesale.
func (g *GeyserFilters) UpdateFilters(pubkeys []string) {
	next := make(map[string]struct{}, len(pubkeys))
	for _, k := range pubkeys {
		next[k] = struct{}{}
	}
	g.mu.Lock()
	g.of = next
	g.mu.Unlock()
}

// ShouldSend reports whether a transaction touching accountKeys is
// "relevant". An empty filter set means everything is relevant (filtering
// disabled). Fails open on nothing — RWMutex in Go cannot be poisoned the
// way a Rust Mutex can, but the fail-open *policy* (send rather than drop on
// any doubt) is preserved from original src/filters.rs.
func (g *GeyserFilters) ShouldSend(accountKeys []string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.of) == 0 {
		return true
	}
	for _, k := range accountKeys {
		if _, ok := g.of[k]; ok {
			return true
		}
	}
	return false
}

// ShouldSendAccount applies the injected RelevanceFilter to a single account
// update. A nil filter means everything is relevant (filtering disabled),
// matching ShouldSend's fail-open policy.
func (g *GeyserFilters) ShouldSendAccount(pubkey, owner string) bool {
	g.mu.RLock()
	filter := g.accounts
	g.mu.RUnlock()
	if filter == nil {
		return true
	}
	return filter(pubkey, owner)
}

// Adapter wires the host callbacks to the publish pipeline.
type Adapter struct {
	cfg     Config
	fanout  *fanout.FanOut
	cache   *slotcache.SlotCache
	filters *GeyserFilters
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New constructs an Adapter.
func New(cfg Config, fo *fanout.FanOut, cache *slotcache.SlotCache, filters *GeyserFilters, m *metrics.Metrics, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if filters == nil {
		filters = NewGeyserFilters(nil, logger)
	}
	return &Adapter{cfg: cfg, fanout: fo, cache: cache, filters: filters, metrics: m, logger: logger}
}

// OnAccountUpdate handles an account-write callback. isStartup accounts are
// skipped entirely (startup replay is out of scope, spec.md §4.6).
func (a *Adapter) OnAccountUpdate(u serializer.AccountUpdate, isStartup bool) error {
	if isStartup || !a.cfg.SendAccounts {
		return nil
	}
	if !a.filters.ShouldSendAccount(u.Pubkey, u.Owner) {
		return nil
	}
	record := wire.NewRecord(wire.KindAccount, serializer.EncodeAccount(u))
	a.cache.Put(u.Slot, slotcache.AccountKey(u.Pubkey), record)
	return a.translate(a.fanout.MaybeFlush())
}

// OnSlotStatus handles a slot-status transition. On Confirmed, it also
// flushes the slot's coalescing bucket (spec.md §4.6).
func (a *Adapter) OnSlotStatus(u serializer.SlotUpdate) error {
	record := wire.NewRecord(wire.KindSlot, serializer.EncodeSlot(u))
	if err := a.translate(a.fanout.Publish(record)); err != nil {
		return err
	}
	if u.Status == serializer.SlotConfirmed {
		return a.translate(a.cache.Flush(u.Slot, a.fanout))
	}
	return nil
}

// OnTransaction handles a transaction-execution callback, applying the
// configured filters before serializing and routing (spec.md §4.6).
func (a *Adapter) OnTransaction(u serializer.TransactionUpdate, programID string, firstInstructionByte *byte, isVote bool) error {
	if !a.cfg.SendTransactions {
		return nil
	}
	if a.cfg.SkipVoteTxs && isVote {
		return nil
	}
	if a.cfg.SkipDeployTxs && isDeployTx(programID, firstInstructionByte, len(u.AccountKeys)) {
		return nil
	}
	if !a.filters.ShouldSend(u.AccountKeys) {
		return nil
	}

	payload, err := serializer.EncodeTransaction(u)
	if err != nil {
		if a.metrics != nil {
			a.metrics.IncSerializeErrs()
		}
		return nil // serialize errors are absorbed, spec.md §7
	}
	record := wire.NewRecord(wire.KindTransaction, payload)
	a.cache.Put(u.Slot, slotcache.TransactionKey(u.Signature), record)
	return a.translate(a.fanout.MaybeFlush())
}

// isDeployTx detects a single-instruction transaction whose program id is
// the BPF loader or upgradeable BPF loader, with instruction data's first
// byte 0 (Write) or 1 (Finalize) — the upgradeable-loader deploy
// discriminators (spec.md §4.6).
func isDeployTx(programID string, firstInstructionByte *byte, instructionCount int) bool {
	if instructionCount != 1 || firstInstructionByte == nil {
		return false
	}
	if programID != bpfLoaderProgramID && programID != bpfLoaderUpgradeableProgramID {
		return false
	}
	return *firstInstructionByte == 0 || *firstInstructionByte == 1
}

// OnBlockMetadata handles a block-metadata callback (spec.md §4.6).
func (a *Adapter) OnBlockMetadata(u serializer.BlockUpdate) error {
	if !a.cfg.SendBlocks {
		return nil
	}
	record := wire.NewRecord(wire.KindBlock, serializer.EncodeBlock(u))
	a.cache.Put(u.Slot, slotcache.BlockMetadataKey(), record)
	return a.translate(a.fanout.MaybeFlush())
}

// translate is the single error translator every callback handler funnels
// through: known kinds are absorbed and counted, unknown kinds escalate to
// the host as a generic error (spec.md §7).
func (a *Adapter) translate(err error) error {
	if err == nil {
		return nil
	}
	var sendErr *fanout.SendError
	if errors.As(err, &sendErr) {
		// already counted by FanOut itself via Metrics.AddSendErrs /
		// AddDisconnectErrs; absorb and return success to the host.
		a.logger.Debug("publish pipeline error absorbed", zap.Error(err))
		return nil
	}
	if errors.Is(err, wire.ErrRecordTooLarge) {
		// already counted by FanOut itself via Metrics.IncSerializeErrs;
		// absorb and return success to the host.
		a.logger.Debug("publish pipeline serialize error absorbed", zap.Error(err))
		return nil
	}
	if a.metrics != nil {
		a.metrics.IncUntypedErrs()
	}
	a.logger.Warn("untyped publish pipeline error escalated to host", zap.Error(err))
	return err
}
