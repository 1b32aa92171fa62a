package services

import (
	"context"
	"sync"
	"time"

	"github.com/kamune-org/taskbag"
)

type EventKind string

const (
	EventPublish       EventKind = "publish"
	EventTake          EventKind = "take"
	EventConfiguration EventKind = "configuration"
	EventCursor        EventKind = "cursor"
)

// Event describes a change of the bag as seen by subscribers.
type Event struct {
	Kind          EventKind              `json:"kind"`
	Key           string                 `json:"key,omitempty"`
	Batch         taskbag.Batch          `json:"batch,omitempty"`
	Configuration *taskbag.Configuration `json:"configuration,omitempty"`
	Cursor        int64                  `json:"cursor,omitempty"`
	Time          time.Time              `json:"time"`
}

// broker fans events out to subscribers. Slow subscribers miss events rather
// than block the bag.
type broker struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[chan Event]struct{})}
}

func (b *broker) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *broker) subscribe(buffer int) (chan Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	ch := make(chan Event, buffer)
	b.subs[ch] = struct{}{}
	return ch, true
}

func (b *broker) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribe streams bag events until ctx is done or the service closes, after
// which the channel is closed.
func (s *Service) Subscribe(ctx context.Context, buffer int) <-chan Event {
	ch, ok := s.events.subscribe(buffer)
	if !ok {
		closed := make(chan Event)
		close(closed)
		return closed
	}
	context.AfterFunc(ctx, func() { s.events.unsubscribe(ch) })
	return ch
}
