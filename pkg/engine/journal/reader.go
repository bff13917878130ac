package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Reader streams records out of a segment file in commit order, for
// Recovery/Replay.
type Reader struct {
	f      *os.File
	Header SegmentHeader
}

// OpenReader opens path for reading and validates its segment header.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open segment %s for read: %w", path, err)
	}
	headerBuf := make([]byte, 12)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: read segment header: %w", err)
	}
	header, err := DecodeSegmentHeader(headerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{f: f, Header: header}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// ErrTruncatedTail is returned by Next when the remaining bytes in the
// segment are fewer than a full record (an unfinished write at crash
// time) or fail their checksum. The caller should stop replaying at this
// point rather than treat it as a hard error.
var ErrTruncatedTail = errors.New("journal: truncated or corrupt tail record")

// Next reads and decodes the next record. Returns io.EOF at a clean
// end-of-segment boundary, or ErrTruncatedTail if a partial or corrupt
// record is found where a clean one was expected.
func (r *Reader) Next() (Record, error) {
	start, err := r.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return Record{}, fmt.Errorf("journal: locate read position: %w", err)
	}

	lenBuf := make([]byte, 4)
	n, err := io.ReadFull(r.f, lenBuf)
	if err == io.EOF && n == 0 {
		return Record{}, io.EOF
	}
	if err != nil {
		r.f.Seek(start, io.SeekStart)
		return Record{}, ErrTruncatedTail
	}

	length := binary.LittleEndian.Uint32(lenBuf)
	rest := make([]byte, length)
	if _, err := io.ReadFull(r.f, rest); err != nil {
		r.f.Seek(start, io.SeekStart)
		return Record{}, ErrTruncatedTail
	}

	full := append(lenBuf, rest...)
	rec, err := Decode(full)
	if err != nil {
		r.f.Seek(start, io.SeekStart)
		return Record{}, ErrTruncatedTail
	}
	return rec, nil
}

// TailOffset returns the reader's current position in the file, useful
// for Recovery to know where to truncate a corrupt tail.
func (r *Reader) TailOffset() (int64, error) {
	return r.f.Seek(0, io.SeekCurrent)
}
