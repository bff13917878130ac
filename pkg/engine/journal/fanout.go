package journal

import "sync"

// OverflowPolicy decides what happens when a subscriber's channel is full
// at publish time, generalizing pkg/api/websocket.go's Hub, which always
// drops the new message and disconnects the client.
type OverflowPolicy int8

const (
	// DropOldest discards the subscriber's oldest buffered record to make
	// room for the new one, keeping the subscriber connected but lossy.
	DropOldest OverflowPolicy = iota
	// DisconnectSubscriber closes the subscriber's channel and removes it,
	// the Hub's original behavior.
	DisconnectSubscriber
)

// Subscriber is one fan-out destination: a bounded channel of records
// plus the overflow policy applied when it falls behind.
type Subscriber struct {
	id     uint64
	ch     chan Record
	policy OverflowPolicy
}

// C returns the channel the subscriber should range over to receive
// records. It is closed when the subscriber is removed or disconnected
// for overflow.
func (s *Subscriber) C() <-chan Record { return s.ch }

// Bus fans committed records out to every registered subscriber without
// ever blocking the sequencer that publishes them, mirroring the Hub's
// registration loop generalized from websocket clients to any consumer
// (API gateway, metrics exporter, replication follower).
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]*Subscriber
	dropped  map[uint64]uint64 // per-subscriber dropped-record counters, for observability
}

// NewBus creates an empty fan-out bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscriber), dropped: make(map[uint64]uint64)}
}

// Subscribe registers a new subscriber with the given buffer depth and
// overflow policy.
func (b *Bus) Subscribe(bufferSize int, policy OverflowPolicy) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscriber{id: b.nextID, ch: make(chan Record, bufferSize), policy: policy}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish fans r out to every subscriber, applying each one's overflow
// policy when its buffer is full. Never blocks: this is on the
// sequencer's hot path.
func (b *Bus) Publish(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- r:
		default:
			switch sub.policy {
			case DropOldest:
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- r:
				default:
				}
				b.dropped[id]++
			case DisconnectSubscriber:
				delete(b.subs, id)
				close(sub.ch)
			}
		}
	}
}

// DroppedCount returns how many records have been dropped for a
// DropOldest subscriber since it subscribed.
func (b *Bus) DroppedCount(sub *Subscriber) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped[sub.id]
}

// SubscriberCount reports the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
