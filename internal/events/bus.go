// Package events provides the in-process event bus workflow runners publish
// to. Regular subscribers get a bounded ring buffer; priority subscribers get
// blocking delivery of events published with PublishPriority.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Timestamp() time.Time
	WorkflowID() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"timestamp"`
	Workflow string    `json:"workflow_id"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) WorkflowID() string   { return e.Workflow }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType, workflowID string) BaseEvent {
	return BaseEvent{
		Type:     eventType,
		Time:     time.Now(),
		Workflow: workflowID,
	}
}

// Publisher is the publishing side of the bus, as seen by the engine.
type Publisher interface {
	Publish(event Event)
	PublishPriority(event Event)
}

// Filter selects the events a subscription receives. Zero values match
// everything.
type Filter struct {
	Types    []string
	Workflow string
}

// priorityBuffer is the channel capacity of priority subscriptions.
const priorityBuffer = 50

type subscription struct {
	ch       chan Event
	types    map[string]struct{}
	workflow string
}

func newSubscription(f Filter, buffer int) *subscription {
	sub := &subscription{
		ch:       make(chan Event, buffer),
		types:    make(map[string]struct{}, len(f.Types)),
		workflow: f.Workflow,
	}
	for _, t := range f.Types {
		sub.types[t] = struct{}{}
	}
	return sub
}

func (s *subscription) matches(ev Event) bool {
	if s.workflow != "" && ev.WorkflowID() != s.workflow {
		return false
	}
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[ev.EventType()]
	return ok
}

// offer delivers ev without blocking. A full buffer loses its oldest event.
// It returns the number of events dropped.
func (s *subscription) offer(ev Event) int64 {
	select {
	case s.ch <- ev:
		return 0
	default:
	}
	var dropped int64
	select {
	case <-s.ch:
		dropped++
	default:
	}
	select {
	case s.ch <- ev:
	default:
		dropped++
	}
	return dropped
}

// EventBus is an in-process pub/sub hub. It is safe for concurrent use.
type EventBus struct {
	mu       sync.RWMutex
	regular  []*subscription
	priority []*subscription
	buffer   int
	closed   bool
	dropped  atomic.Int64

	// done unblocks priority publishers when the bus closes.
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an EventBus whose regular subscriptions buffer bufferSize
// events.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		buffer: bufferSize,
		done:   make(chan struct{}),
	}
}

// Subscribe receives events of the given types, or all events when none
// are given. Slow readers lose the oldest buffered events.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	return eb.SubscribeFiltered(Filter{Types: types})
}

// SubscribeFiltered is Subscribe with a full filter.
func (eb *EventBus) SubscribeFiltered(f Filter) <-chan Event {
	sub := newSubscription(f, eb.buffer)
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(sub.ch)
		return sub.ch
	}
	eb.regular = append(eb.regular, sub)
	return sub.ch
}

// SubscribePriority receives PublishPriority events of the given types
// without loss. The reader must keep draining the channel: a stalled
// priority subscriber stalls every publisher of a matching event.
func (eb *EventBus) SubscribePriority(types ...string) <-chan Event {
	return eb.SubscribePriorityFiltered(Filter{Types: types})
}

// SubscribePriorityFiltered is SubscribePriority with a full filter. A
// Workflow filter limits back-pressure to publishers of that workflow.
func (eb *EventBus) SubscribePriorityFiltered(f Filter) <-chan Event {
	sub := newSubscription(f, priorityBuffer)
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(sub.ch)
		return sub.ch
	}
	eb.priority = append(eb.priority, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.regular = without(eb.regular, ch)
	eb.priority = without(eb.priority, ch)
}

func without(subs []*subscription, ch <-chan Event) []*subscription {
	kept := subs[:0]
	for _, sub := range subs {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	for i := len(kept); i < len(subs); i++ {
		subs[i] = nil
	}
	return kept
}

// Publish delivers event to matching regular subscribers without blocking.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eb.fanOut(event)
}

// PublishPriority delivers event to regular subscribers and, blocking, to
// matching priority subscribers. Terminal events go through here so
// projections never miss them.
func (eb *EventBus) PublishPriority(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eb.fanOut(event)

	for _, sub := range eb.priority {
		if !sub.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		case <-eb.done:
			return
		}
	}
}

func (eb *EventBus) fanOut(event Event) {
	for _, sub := range eb.regular {
		if !sub.matches(event) {
			continue
		}
		if n := sub.offer(event); n > 0 {
			eb.dropped.Add(n)
		}
	}
}

// DroppedCount returns how many events regular subscribers have lost.
func (eb *EventBus) DroppedCount() int64 {
	return eb.dropped.Load()
}

// Stats reports subscription counts and drops.
type Stats struct {
	Subscribers         int   `json:"subscribers"`
	PrioritySubscribers int   `json:"priority_subscribers"`
	Dropped             int64 `json:"dropped"`
}

// Stats returns a snapshot of the bus counters.
func (eb *EventBus) Stats() Stats {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return Stats{
		Subscribers:         len(eb.regular),
		PrioritySubscribers: len(eb.priority),
		Dropped:             eb.dropped.Load(),
	}
}

// Close closes the bus and every subscriber channel. Blocked priority
// publishers return.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() { close(eb.done) })

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.regular {
		close(sub.ch)
	}
	for _, sub := range eb.priority {
		close(sub.ch)
	}
	eb.regular = nil
	eb.priority = nil
}

// Nop is a Publisher that discards every event.
type Nop struct{}

func (Nop) Publish(Event)         {}
func (Nop) PublishPriority(Event) {}
