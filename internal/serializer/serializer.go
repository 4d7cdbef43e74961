// Package serializer converts domain updates (Account, Transaction, Slot,
// Block, Metadata) into the tagged binary envelope the wire protocol
// carries (spec.md §4.5). The on-wire byte layout, not any particular
// encoding library, is the contract: each Encode* function hand-rolls its
// layout with encoding/binary, the same idiom the teacher uses in
// internal/headers/wire.go and durable-streams uses in
// packages/caddy-plugin/store/segment.go for framing concerns.
//
// Domain field shapes are grounded on internal/blocks/solana/validator.go
// and internal/blocks/solana/processor.go (pubkey/signature string
// handling, reward/commission fields, instruction program-id-index
// resolution).
package serializer

import (
	"encoding/binary"
	"fmt"
)

// SlotStatus is the closed set of slot-status values spec.md §3 and §4.6
// reference.
type SlotStatus uint8

const (
	SlotProcessed SlotStatus = 0
	SlotRooted    SlotStatus = 1
	SlotConfirmed SlotStatus = 2
)

// RewardType is the closed set of validator reward kinds a Block record may
// carry.
type RewardType uint8

const (
	RewardFee        RewardType = 0
	RewardRent       RewardType = 1
	RewardStaking    RewardType = 2
	RewardVoting     RewardType = 3
	RewardUnassigned RewardType = 255
)

// TransactionStatusKind is the closed set of transaction outcomes.
type TransactionStatusKind uint8

const (
	TxStatusOk    TransactionStatusKind = 0
	TxStatusError TransactionStatusKind = 1
)

// InstructionErrorKind is the closed set of instruction-error discriminators
// a failed transaction's metadata may carry (spec.md §4.5). Unknown upstream
// variants must fail closed with ErrUnknownVariant rather than silently
// misclassify.
type InstructionErrorKind uint8

const (
	InstrErrGeneric                  InstructionErrorKind = 0
	InstrErrCustom                   InstructionErrorKind = 1 // payload: u32 code
	InstrErrBorshIoError             InstructionErrorKind = 2 // payload: string
	InstrErrDuplicateInstruction     InstructionErrorKind = 3 // payload: u8 index
	InstrErrInsufficientFundsForRent InstructionErrorKind = 4 // payload: u8 account_index
	InstrErrInvalidAccountData       InstructionErrorKind = 5
	InstrErrAccountNotFound          InstructionErrorKind = 6
	InstrErrMissingRequiredSignature InstructionErrorKind = 7
)

// ErrUnknownVariant signals an upstream enum value this package does not
// recognize; callers must treat this as a SerializeError and drop the
// record rather than guess at its shape (spec.md §4.5).
type ErrUnknownVariant struct {
	Enum  string
	Value int
}

func (e *ErrUnknownVariant) Error() string {
	return fmt.Sprintf("serializer: unknown %s variant %d", e.Enum, e.Value)
}

// InstructionError is a tagged union: Kind selects which of the payload
// fields (if any) is meaningful.
type InstructionError struct {
	Kind         InstructionErrorKind
	CustomCode   uint32
	BorshMessage string
	Index        uint8
	AccountIndex uint8
}

// TransactionStatus is Ok, or Error carrying a structured InstructionError.
type TransactionStatus struct {
	Kind  TransactionStatusKind
	Error InstructionError // meaningful only when Kind == TxStatusError
}

// --- little helpers shared by every Encode* function ---

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func putBlob(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func putU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putI64(buf []byte, v int64) []byte {
	return putU64(buf, uint64(v))
}

func putBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// --- Account ---

// AccountUpdate is the canonical account-write update (spec.md §4.5).
type AccountUpdate struct {
	Pubkey       string
	Owner        string
	Slot         uint64
	Lamports     uint64
	RentEpoch    uint64
	Executable   bool
	WriteVersion uint64
	Data         []byte
}

// EncodeAccount produces the Account payload body (without the kind tag;
// callers pass this to wire.NewRecord(wire.KindAccount, ...)).
func EncodeAccount(u AccountUpdate) []byte {
	buf := make([]byte, 0, 64+len(u.Data))
	buf = putString(buf, u.Pubkey)
	buf = putString(buf, u.Owner)
	buf = putU64(buf, u.Slot)
	buf = putU64(buf, u.Lamports)
	buf = putU64(buf, u.RentEpoch)
	buf = putBool(buf, u.Executable)
	buf = putU64(buf, u.WriteVersion)
	buf = putBlob(buf, u.Data)
	return buf
}

// --- Slot ---

// SlotUpdate is the canonical slot-status transition update.
type SlotUpdate struct {
	Slot   uint64
	Parent *uint64
	Status SlotStatus
}

// EncodeSlot produces the Slot payload body.
func EncodeSlot(u SlotUpdate) []byte {
	buf := make([]byte, 0, 18)
	buf = putU64(buf, u.Slot)
	if u.Parent != nil {
		buf = append(buf, 1)
		buf = putU64(buf, *u.Parent)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(u.Status))
	return buf
}

// --- Transaction ---

// TransactionUpdate is the canonical transaction-execution update.
type TransactionUpdate struct {
	Signature         string
	IsVote            bool
	Slot              uint64
	IndexInSlot        uint32
	VersionedTxBytes  []byte // the host's already-serialized versioned transaction
	Status            TransactionStatus
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	LogMessages       []string
	ComputeUnitsUsed  uint64
	AccountKeys       []string
	Memo              string
}

// EncodeTransaction produces the Transaction payload body. Returns
// ErrUnknownVariant if Status carries an InstructionErrorKind this package
// does not recognize (fail closed, spec.md §4.5).
func EncodeTransaction(u TransactionUpdate) ([]byte, error) {
	if u.Status.Kind == TxStatusError {
		if err := validateInstructionError(u.Status.Error); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, 0, 256+len(u.VersionedTxBytes))
	buf = putString(buf, u.Signature)
	buf = putBool(buf, u.IsVote)
	buf = putU64(buf, u.Slot)
	buf = putU32(buf, u.IndexInSlot)
	buf = putBlob(buf, u.VersionedTxBytes)
	buf = encodeTransactionStatus(buf, u.Status)
	buf = putU64(buf, u.Fee)

	buf = putU32(buf, uint32(len(u.PreBalances)))
	for _, b := range u.PreBalances {
		buf = putU64(buf, b)
	}
	buf = putU32(buf, uint32(len(u.PostBalances)))
	for _, b := range u.PostBalances {
		buf = putU64(buf, b)
	}
	buf = putU32(buf, uint32(len(u.LogMessages)))
	for _, l := range u.LogMessages {
		buf = putString(buf, l)
	}
	buf = putU64(buf, u.ComputeUnitsUsed)
	buf = putU32(buf, uint32(len(u.AccountKeys)))
	for _, k := range u.AccountKeys {
		buf = putString(buf, k)
	}
	buf = putString(buf, u.Memo)
	return buf, nil
}

func validateInstructionError(e InstructionError) error {
	switch e.Kind {
	case InstrErrGeneric, InstrErrCustom, InstrErrBorshIoError,
		InstrErrDuplicateInstruction, InstrErrInsufficientFundsForRent,
		InstrErrInvalidAccountData, InstrErrAccountNotFound,
		InstrErrMissingRequiredSignature:
		return nil
	default:
		return &ErrUnknownVariant{Enum: "InstructionError", Value: int(e.Kind)}
	}
}

func encodeTransactionStatus(buf []byte, s TransactionStatus) []byte {
	buf = append(buf, byte(s.Kind))
	if s.Kind != TxStatusError {
		return buf
	}
	buf = append(buf, byte(s.Error.Kind))
	switch s.Error.Kind {
	case InstrErrCustom:
		buf = putU32(buf, s.Error.CustomCode)
	case InstrErrBorshIoError:
		buf = putString(buf, s.Error.BorshMessage)
	case InstrErrDuplicateInstruction:
		buf = append(buf, s.Error.Index)
	case InstrErrInsufficientFundsForRent:
		buf = append(buf, s.Error.AccountIndex)
	}
	return buf
}

// --- Block ---

// Reward is one validator-reward line item within a Block update.
type Reward struct {
	Pubkey      string
	Lamports    int64
	PostBalance uint64
	RewardType  RewardType
	Commission  *uint8
}

// BlockUpdate is the canonical block-metadata update.
type BlockUpdate struct {
	Slot              uint64
	Blockhash         string
	BlockTime         *int64
	BlockHeight       *uint64
	ParentSlot        uint64
	ParentBlockhash   string
	Rewards           []Reward
	ExecutedTxCount   uint64
}

// EncodeBlock produces the Block payload body.
func EncodeBlock(u BlockUpdate) []byte {
	buf := make([]byte, 0, 128)
	buf = putU64(buf, u.Slot)
	buf = putString(buf, u.Blockhash)
	if u.BlockTime != nil {
		buf = append(buf, 1)
		buf = putI64(buf, *u.BlockTime)
	} else {
		buf = append(buf, 0)
	}
	if u.BlockHeight != nil {
		buf = append(buf, 1)
		buf = putU64(buf, *u.BlockHeight)
	} else {
		buf = append(buf, 0)
	}
	buf = putU64(buf, u.ParentSlot)
	buf = putString(buf, u.ParentBlockhash)
	buf = putU32(buf, uint32(len(u.Rewards)))
	for _, r := range u.Rewards {
		buf = putString(buf, r.Pubkey)
		buf = putI64(buf, r.Lamports)
		buf = putU64(buf, r.PostBalance)
		buf = append(buf, byte(r.RewardType))
		if r.Commission != nil {
			buf = append(buf, 1, *r.Commission)
		} else {
			buf = append(buf, 0, 0)
		}
	}
	buf = putU64(buf, u.ExecutedTxCount)
	return buf
}

// --- Metadata ---

// EncodeMetadata produces the Metadata payload body: the current send_errs
// counter value (spec.md §3, §4.5).
func EncodeMetadata(sendErrs uint64) []byte {
	return putU64(nil, sendErrs)
}
