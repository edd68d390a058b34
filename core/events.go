// events.go provides the pub/sub feed for ledger events. The submission
// path publishes without blocking: a subscriber that falls behind loses
// events rather than stalling writers.
package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies the kind of event published on the bus.
type EventType string

// Events emitted by the submission engine.
const (
	// EventScoreSubmitted fires on every accepted submission. Data is a
	// SubmissionEvent.
	EventScoreSubmitted EventType = "ledger.scoreSubmitted"
	// EventStreakChanged fires when an accepted submission extends a
	// streak past one day. Data is a StreakEvent.
	EventStreakChanged EventType = "ledger.streakChanged"
)

// SubmissionEvent announces an accepted submission. The score itself stays
// encrypted and is deliberately absent.
type SubmissionEvent struct {
	Principal common.Address
	Time      uint64
	Category  DistanceCategory
}

// StreakEvent announces a streak extension.
type StreakEvent struct {
	Principal common.Address
	Days      uint64
}

// Event is a message published on the bus.
type Event struct {
	Type      EventType
	Data      interface{}
	Timestamp time.Time
}

// Subscription receives events of the types it was created with.
type Subscription struct {
	id     uint64
	types  map[EventType]struct{}
	ch     chan Event
	bus    *EventBus
	closed atomic.Bool
}

// Chan returns the channel delivering matching events.
func (s *Subscription) Chan() <-chan Event { return s.ch }

// Unsubscribe removes the subscription and closes its channel. Safe to
// call multiple times.
func (s *Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.unsubscribe(s)
	}
}

// EventBus fans ledger events out to subscribers. All methods are safe for
// concurrent use.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
}

// NewEventBus creates an EventBus. bufferSize controls each subscription's
// channel buffer; slow subscribers drop events once their buffer fills.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &EventBus{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe creates a subscription receiving events matching any of the
// given types.
func (eb *EventBus) Subscribe(types ...EventType) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	typeSet := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}
	sub := &Subscription{
		id:    eb.nextID,
		types: typeSet,
		ch:    make(chan Event, eb.bufferSize),
		bus:   eb,
	}
	eb.subs[sub.id] = sub
	return sub
}

func (eb *EventBus) unsubscribe(sub *Subscription) {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	eb.mu.Lock()
	delete(eb.subs, sub.id)
	eb.mu.Unlock()
	close(sub.ch)
}

// Publish delivers an event to every matching subscriber without blocking;
// the event is dropped for any subscriber whose buffer is full.
func (eb *EventBus) Publish(eventType EventType, data interface{}) {
	event := Event{Type: eventType, Data: data, Timestamp: time.Now()}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, sub := range eb.subs {
		if sub.closed.Load() {
			continue
		}
		if _, ok := sub.types[eventType]; ok {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}
