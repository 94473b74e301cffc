package dashboard

import "sync"

// EventKind labels a status-dashboard SSE event.
type EventKind string

const (
	EventBirth EventKind = "birth"
	EventDeath EventKind = "death"
)

// Event is one line pushed down the dashboard's SSE stream.
type Event struct {
	Kind      EventKind `json:"kind"`
	Name      string    `json:"name"`
	Score     float64   `json:"score,omitempty"`
	Ascension uint64    `json:"ascension,omitempty"`
}

// Broadcaster fans a single stream of Events out to any number of SSE
// subscribers, each with its own buffered channel so one slow reader can't
// stall the others.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener, returning its channel and an
// unsubscribe function the caller must call when done.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish delivers ev to every current subscriber. A subscriber whose buffer
// is full has the event dropped rather than blocking the publisher — the
// dashboard is a best-effort status view, not a durable event log.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
