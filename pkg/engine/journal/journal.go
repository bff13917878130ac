package journal

import "fmt"

// Journal is the per-shard combination of the durable writer and the
// live fan-out bus: every event the sequencer produces is appended
// before it is published, so a subscriber never observes an event that
// did not make it to disk.
type Journal struct {
	writer   *Writer
	bus      *Bus
	eventSeq uint32
}

// Open creates a Journal backed by a segment file at path.
func Open(path string, shardID uint32, policy FsyncPolicy, everyN int) (*Journal, error) {
	w, err := NewWriter(path, shardID, policy, everyN)
	if err != nil {
		return nil, err
	}
	return &Journal{writer: w, bus: NewBus()}, nil
}

// Bus exposes the fan-out bus for subscription.
func (j *Journal) Bus() *Bus { return j.bus }

// Commit appends one event for commandSeq and, only once the append has
// returned without error, publishes it to subscribers — never the
// reverse order, since a subscriber update is not a durability guarantee.
func (j *Journal) Commit(commandSeq uint64, kind Kind, payload []byte) error {
	j.eventSeq++
	r := Record{CommandSeq: commandSeq, EventSeq: j.eventSeq, Kind: kind, Payload: payload}
	if err := j.writer.Append(r); err != nil {
		return fmt.Errorf("journal: commit event %d: %w", j.eventSeq, err)
	}
	j.bus.Publish(r)
	return nil
}

// Close flushes and closes the underlying segment file. Subscribers are
// left registered; callers should Unsubscribe before discarding the Bus.
func (j *Journal) Close() error { return j.writer.Close() }
