// Package wire implements the length-prefixed binary envelope used between
// the FanOut sender and its TCP subscribers: kind-tagged records, framed
// records, and batches of framed records. All integers are little-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind identifies the payload shape carried by a record's first byte.
type Kind uint8

const (
	KindAccount     Kind = 0
	KindSlot        Kind = 1
	KindTransaction Kind = 2
	KindBlock       Kind = 3
	KindMetadata    Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindSlot:
		return "slot"
	case KindTransaction:
		return "transaction"
	case KindBlock:
		return "block"
	case KindMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	lengthPrefixSize = 4
	// MaxRecordSize bounds a single record's body so the u32_le length
	// prefix never overflows; a record beyond this is fatal-to-batch.
	MaxRecordSize = 1<<32 - 1
)

// ErrRecordTooLarge is returned by Frame when a record body would overflow
// the u32_le length prefix (spec: "treat as fatal-to-batch, reported as
// SerializeError").
var ErrRecordTooLarge = errors.New("wire: record exceeds 4 GiB length prefix")

// NewRecord prepends the kind tag to a payload, producing the record body
// that Frame will length-prefix.
func NewRecord(kind Kind, payload []byte) []byte {
	rec := make([]byte, 1+len(payload))
	rec[0] = byte(kind)
	copy(rec[1:], payload)
	return rec
}

// RecordKind returns the kind tag of a record produced by NewRecord.
func RecordKind(record []byte) (Kind, error) {
	if len(record) < 1 {
		return 0, errors.New("wire: empty record has no kind tag")
	}
	return Kind(record[0]), nil
}

// Frame emits u32_le(len(record)) ‖ record.
func Frame(record []byte) ([]byte, error) {
	if len(record) > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	out := make([]byte, lengthPrefixSize+len(record))
	binary.LittleEndian.PutUint32(out[:lengthPrefixSize], uint32(len(record)))
	copy(out[lengthPrefixSize:], record)
	return out, nil
}

// Batch emits u32_le(total) ‖ concat(frames). total must equal the summed
// length of frames; callers that track total incrementally (TcpBuffer) pass
// it directly rather than recomputing it here.
func Batch(frames [][]byte, total int) ([]byte, error) {
	if total > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	out := make([]byte, lengthPrefixSize+total)
	binary.LittleEndian.PutUint32(out[:lengthPrefixSize], uint32(total))
	offset := lengthPrefixSize
	for _, f := range frames {
		n := copy(out[offset:], f)
		offset += n
	}
	return out, nil
}

// ReadBatch reads one batch from r: a u32_le total length followed by that
// many bytes of concatenated framed records. It returns the raw framed-record
// bytes (not yet split into individual records) — see SplitFrames.
func ReadBatch(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: short batch body: %w", err)
	}
	return body, nil
}

// SplitFrames parses the concatenated framed records in a batch body into
// individual record byte slices, in order. It is the receive-side dual of
// Batch(Frame(...)...) and is used by the tests.
func SplitFrames(body []byte) ([][]byte, error) {
	var records [][]byte
	offset := 0
	for offset < len(body) {
		if offset+lengthPrefixSize > len(body) {
			return nil, errors.New("wire: truncated frame length prefix")
		}
		recLen := binary.LittleEndian.Uint32(body[offset : offset+lengthPrefixSize])
		offset += lengthPrefixSize
		end := offset + int(recLen)
		if end > len(body) {
			return nil, errors.New("wire: truncated frame body")
		}
		records = append(records, body[offset:end])
		offset = end
	}
	return records, nil
}
