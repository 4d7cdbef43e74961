package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PayRpc/geyser-sprint/internal/wire"
)

func TestEncodeAccountWithKindTag(t *testing.T) {
	payload := EncodeAccount(AccountUpdate{
		Pubkey:       "11111111111111111111111111111111",
		Owner:        "BPFLoader2111111111111111111111111111111111",
		Slot:         42,
		Lamports:     1000,
		WriteVersion: 7,
		Data:         []byte{0xde, 0xad},
	})
	record := wire.NewRecord(wire.KindAccount, payload)
	kind, err := wire.RecordKind(record)
	require.NoError(t, err)
	assert.Equal(t, wire.KindAccount, kind)
	assert.Greater(t, len(record), 1)
}

func TestEncodeSlotWithoutParent(t *testing.T) {
	payload := EncodeSlot(SlotUpdate{Slot: 5, Status: SlotConfirmed})
	// flag byte for "has parent" must be 0, immediately after the 8-byte slot
	assert.Equal(t, byte(0), payload[8])
	assert.Equal(t, byte(SlotConfirmed), payload[len(payload)-1])
}

func TestEncodeSlotWithParent(t *testing.T) {
	parent := uint64(4)
	payload := EncodeSlot(SlotUpdate{Slot: 5, Parent: &parent, Status: SlotRooted})
	assert.Equal(t, byte(1), payload[8])
}

func TestEncodeTransactionOk(t *testing.T) {
	payload, err := EncodeTransaction(TransactionUpdate{
		Signature: "sig1",
		Slot:      10,
		Status:    TransactionStatus{Kind: TxStatusOk},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

func TestEncodeTransactionCustomError(t *testing.T) {
	payload, err := EncodeTransaction(TransactionUpdate{
		Signature: "sig2",
		Slot:      10,
		Status: TransactionStatus{
			Kind: TxStatusError,
			Error: InstructionError{
				Kind:       InstrErrCustom,
				CustomCode: 6003,
			},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

func TestEncodeTransactionUnknownVariantFailsClosed(t *testing.T) {
	_, err := EncodeTransaction(TransactionUpdate{
		Signature: "sig3",
		Status: TransactionStatus{
			Kind:  TxStatusError,
			Error: InstructionError{Kind: InstructionErrorKind(200)},
		},
	})
	require.Error(t, err)
	var unknown *ErrUnknownVariant
	assert.ErrorAs(t, err, &unknown)
}

func TestEncodeBlock(t *testing.T) {
	height := uint64(123)
	commission := uint8(10)
	payload := EncodeBlock(BlockUpdate{
		Slot:        8,
		Blockhash:   "hash8",
		BlockHeight: &height,
		ParentSlot:  7,
		Rewards: []Reward{
			{Pubkey: "validator1", Lamports: 500, RewardType: RewardFee, Commission: &commission},
		},
		ExecutedTxCount: 3,
	})
	assert.NotEmpty(t, payload)
}

func TestEncodeMetadata(t *testing.T) {
	payload := EncodeMetadata(42)
	assert.Len(t, payload, 8)
}
