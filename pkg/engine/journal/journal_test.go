package journal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := Record{CommandSeq: 42, EventSeq: 1, Kind: KindFill, Payload: []byte("hello")}
	buf := Encode(r)

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CommandSeq != r.CommandSeq || got.EventSeq != r.EventSeq || got.Kind != r.Kind {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, r)
	}
	if !bytes.Equal(got.Payload, r.Payload) {
		t.Errorf("payload mismatch: got %q, want %q", got.Payload, r.Payload)
	}
}

func TestDecode_DetectsCorruption(t *testing.T) {
	buf := Encode(Record{CommandSeq: 1, EventSeq: 1, Kind: KindFill, Payload: []byte("x")})
	buf[len(buf)-1] ^= 0xFF // flip a bit in the crc32

	_, err := Decode(buf)
	if err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestWriterReader_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard0.journal")

	w, err := NewWriter(path, 7, FsyncEveryRecord, 0)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	records := []Record{
		{CommandSeq: 1, EventSeq: 1, Kind: KindOrderAccepted, Payload: []byte("a")},
		{CommandSeq: 2, EventSeq: 2, Kind: KindFill, Payload: []byte("b")},
	}
	for _, r := range records {
		if err := w.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rd, err := OpenReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer rd.Close()
	if rd.Header.ShardID != 7 {
		t.Errorf("shard id = %d, want 7", rd.Header.ShardID)
	}

	var got []Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, rec)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
}

func TestReader_TruncatedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard0.journal")

	w, _ := NewWriter(path, 0, FsyncEveryRecord, 0)
	w.Append(Record{CommandSeq: 1, EventSeq: 1, Kind: KindFill, Payload: []byte("complete")})
	w.Close()

	// simulate a crash mid-write by appending a partial record
	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	f.Write([]byte{0x10, 0x00, 0x00, 0x00, 0x01, 0x02})
	f.Close()

	rd, _ := OpenReader(path)
	defer rd.Close()

	if _, err := rd.Next(); err != nil {
		t.Fatalf("first record should decode cleanly: %v", err)
	}
	if _, err := rd.Next(); err != ErrTruncatedTail {
		t.Fatalf("expected ErrTruncatedTail on partial record, got %v", err)
	}
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(4, DisconnectSubscriber)

	b.Publish(Record{CommandSeq: 1, EventSeq: 1, Kind: KindFill})

	select {
	case r := <-sub.C():
		if r.CommandSeq != 1 {
			t.Errorf("command seq = %d, want 1", r.CommandSeq)
		}
	default:
		t.Fatal("expected a buffered record")
	}
}

func TestBus_DropOldestKeepsSubscriberAlive(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1, DropOldest)

	b.Publish(Record{CommandSeq: 1, EventSeq: 1, Kind: KindFill})
	b.Publish(Record{CommandSeq: 2, EventSeq: 2, Kind: KindFill})

	if b.DroppedCount(sub) != 1 {
		t.Errorf("dropped count = %d, want 1", b.DroppedCount(sub))
	}
	r := <-sub.C()
	if r.CommandSeq != 2 {
		t.Errorf("expected the newest record to survive, got command seq %d", r.CommandSeq)
	}
}

func TestBus_DisconnectSubscriberOnOverflow(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1, DisconnectSubscriber)

	b.Publish(Record{CommandSeq: 1, EventSeq: 1, Kind: KindFill})
	b.Publish(Record{CommandSeq: 2, EventSeq: 2, Kind: KindFill})

	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber should have been disconnected on overflow")
	}
	_, ok := <-sub.C()
	if ok {
		t.Error("channel should be closed after disconnect")
	}
}

func TestJournal_CommitAppendsThenPublishes(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "s.journal"), 1, FsyncEveryRecord, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	sub := j.Bus().Subscribe(4, DisconnectSubscriber)
	if err := j.Commit(10, KindFill, []byte("payload")); err != nil {
		t.Fatalf("commit: %v", err)
	}

	select {
	case r := <-sub.C():
		if r.CommandSeq != 10 {
			t.Errorf("command seq = %d, want 10", r.CommandSeq)
		}
	default:
		t.Fatal("expected published record")
	}
}
