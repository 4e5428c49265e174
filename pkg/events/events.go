package events

import (
	"sync"
	"time"

	"github.com/cuemby/dnsrest/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	// EventContainerStart is emitted when a container task starts
	EventContainerStart EventType = "container.start"

	// EventContainerDie is emitted when a container task exits
	EventContainerDie EventType = "container.die"
)

// Event is a container lifecycle change
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Container types.Container `json:"container"`
	Timestamp time.Time       `json:"timestamp"`
}

// New creates an event with a fresh ID and the current time
func New(typ EventType, c types.Container) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Container: c,
		Timestamp: time.Now(),
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans applied events out to subscribers
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and closes every subscription
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			delete(b.subscribers, sub)
			close(sub)
		}
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	select {
	case <-b.stopCh:
		close(sub)
		return sub
	default:
	}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. It never blocks once the
// broker is stopped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
