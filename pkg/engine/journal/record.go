// Package journal implements the write-ahead event log every sequencer
// shard appends to before a command's effects are considered committed,
// plus the bounded-queue fan-out that pushes committed events out to
// subscribers. The on-disk writer generalizes pkg/storage/wal.go's
// FileWAL (append-only file, mutex-guarded writer, no framing) into a
// length-prefixed, CRC32-checksummed binary record format; the fan-out
// generalizes pkg/api/websocket.go's Hub (per-client bounded send
// channel, drop-if-full loop) from websocket clients to generic
// subscriber channels.
package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Kind identifies the payload type of one journal record.
type Kind uint16

const (
	KindOrderAccepted Kind = iota + 1
	KindOrderRejected
	KindFill
	KindCancelAccepted
	KindCancelRejected
	KindModifyAccepted
	KindModifyRejected
	KindPositionUpdate
	KindLedgerEntry
	KindFundingApplied
	KindLiquidation
	KindSymbolHalted
	KindSymbolResumed
	KindReferencePriceApplied
)

// SchemaVersion is written into every segment header. Bump when the
// record layout changes incompatibly.
const SchemaVersion uint32 = 1

// segmentMagic identifies a matchcore journal segment file.
var segmentMagic = [4]byte{'M', 'C', 'J', 'L'}

// SegmentHeader is written once at the start of every journal segment
// file.
type SegmentHeader struct {
	SchemaVersion uint32
	ShardID       uint32
}

// EncodeSegmentHeader returns the fixed 12-byte segment header.
func EncodeSegmentHeader(h SegmentHeader) []byte {
	buf := make([]byte, 12)
	copy(buf[0:4], segmentMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.SchemaVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.ShardID)
	return buf
}

// DecodeSegmentHeader parses and validates a segment header.
func DecodeSegmentHeader(buf []byte) (SegmentHeader, error) {
	if len(buf) < 12 {
		return SegmentHeader{}, fmt.Errorf("journal: segment header truncated")
	}
	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != segmentMagic {
		return SegmentHeader{}, fmt.Errorf("journal: bad segment magic %v", magic)
	}
	return SegmentHeader{
		SchemaVersion: binary.LittleEndian.Uint32(buf[4:8]),
		ShardID:       binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// Record is one committed event: a command sequence number, a
// monotonically increasing per-shard event sequence number, a kind and
// an opaque payload (the caller's own encoding, typically JSON — the
// journal format fixes framing and checksum, not payload encoding, the
// same separation pkg/storage/codec.go draws between block bytes and
// their gob wrapper).
type Record struct {
	CommandSeq uint64
	EventSeq   uint32
	Kind       Kind
	Payload    []byte
}

// recordHeaderLen is u64 command_seq + u32 event_seq + u16 kind.
const recordHeaderLen = 8 + 4 + 2

// Encode serializes r into the wire format spec.md §6 defines:
// [u32 length][u64 command_seq][u32 event_seq][u16 kind][payload][u32 crc32]
// length covers everything after itself, including the trailing crc32.
// The CRC is computed over the command_seq/event_seq/kind/payload body so
// a reader can validate a record before trusting any of its fields.
func Encode(r Record) []byte {
	bodyLen := recordHeaderLen + len(r.Payload)
	total := 4 + bodyLen + 4 // length prefix + body + crc32

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(bodyLen+4))

	body := buf[4 : 4+bodyLen]
	binary.LittleEndian.PutUint64(body[0:8], r.CommandSeq)
	binary.LittleEndian.PutUint32(body[8:12], r.EventSeq)
	binary.LittleEndian.PutUint16(body[12:14], uint16(r.Kind))
	copy(body[recordHeaderLen:], r.Payload)

	sum := crc32.ChecksumIEEE(body)
	binary.LittleEndian.PutUint32(buf[4+bodyLen:], sum)
	return buf
}

// ErrCorrupt is returned by Decode when a record's checksum does not
// match its body, signalling a torn write that Recovery must truncate.
var ErrCorrupt = fmt.Errorf("journal: corrupt record")

// Decode parses one record from buf, which must contain exactly the
// bytes Encode produced (length prefix through trailing crc32).
// Recovery is expected to read the 4-byte length prefix first, then read
// exactly that many further bytes before calling Decode.
func Decode(buf []byte) (Record, error) {
	if len(buf) < 4 {
		return Record{}, fmt.Errorf("journal: record truncated before length prefix")
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if length < 4 {
		return Record{}, ErrCorrupt
	}
	if uint32(len(buf)) < 4+length {
		return Record{}, fmt.Errorf("journal: record shorter than declared length")
	}
	body := buf[4 : 4+length-4]
	wantCRC := binary.LittleEndian.Uint32(buf[4+length-4 : 4+length])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return Record{}, ErrCorrupt
	}
	if len(body) < recordHeaderLen {
		return Record{}, fmt.Errorf("journal: record body shorter than header")
	}
	return Record{
		CommandSeq: binary.LittleEndian.Uint64(body[0:8]),
		EventSeq:   binary.LittleEndian.Uint32(body[8:12]),
		Kind:       Kind(binary.LittleEndian.Uint16(body[12:14])),
		Payload:    append([]byte(nil), body[recordHeaderLen:]...),
	}, nil
}

// RecordTotalLen returns the total on-disk length (including the 4-byte
// length prefix) a record with this length field encodes.
func RecordTotalLen(lengthField uint32) int { return 4 + int(lengthField) }
