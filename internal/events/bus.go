package events

import "sync"

// defaultBuffer is the per-subscriber channel depth used when callers don't
// need a tighter bound. Console output is the highest-volume event kind and
// this comfortably absorbs a burst between ticks of a slow consumer.
const defaultBuffer = 1000

// Bus is a single-writer, multi-reader fan-out: Publish never blocks on a
// slow subscriber. A subscriber that falls behind has its event dropped and
// gets a synthetic Dropped marker in a channel slot held back for it.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextID      uint64
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[uint64]*subscriber)}
}

// Subscribe registers a new listener with the given channel buffer (0 uses
// defaultBuffer) and returns its channel plus an unsubscribe func. Callers
// must keep draining the channel or invoke unsubscribe to avoid leaking the
// bus's bookkeeping entry.
func (b *Bus) Subscribe(bufSize int) (<-chan Event, func()) {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	// One slot beyond bufSize is kept free for the KindDropped marker.
	sub := &subscriber{ch: make(chan Event, bufSize+1)}
	b.subscribers[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans evt out to every live subscriber. A subscriber whose channel
// is full does not block the publisher; its drop count increments and a
// KindDropped marker is attempted (also non-blocking) so the consumer can
// tell its view has gaps. It returns the number of subscribers that
// actually received evt (not counting drop markers) — useful for test
// assertions, never meant to drive control flow.
func (b *Bus) Publish(evt Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	observed := 0
	for _, sub := range b.subscribers {
		// Only Publish sends, under b.mu, so len can only shrink between
		// this check and the send.
		if len(sub.ch) < cap(sub.ch)-1 {
			sub.ch <- evt
			observed++
			continue
		}
		sub.dropped++
		marker := Event{Kind: KindDropped, ServerID: evt.ServerID, Timestamp: evt.Timestamp, DroppedCount: sub.dropped}
		select {
		case sub.ch <- marker:
		default:
		}
	}
	return observed
}
