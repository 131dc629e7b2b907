package kanban

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType names a board event
type EventType string

const (
	EventMessageMoved    EventType = "message_moved"
	EventMessageDeleted  EventType = "message_deleted"
	EventMessagesUpdated EventType = "messages_updated"
)

// Metadata is the caller supplied description of a message
type Metadata struct {
	Subject string `json:"subject,omitempty"`
	From    string `json:"from,omitempty"`
}

// Event is published after a successful live change
type Event struct {
	Type       EventType `json:"type"`
	UID        uint32    `json:"uid,omitempty"`
	NewUID     *uint32   `json:"newUid,omitempty"`
	FromFolder string    `json:"fromFolder,omitempty"`
	ToFolder   string    `json:"toFolder,omitempty"`
	Folder     string    `json:"folder,omitempty"`
	Count      int       `json:"count,omitempty"`
	Metadata   Metadata  `json:"metadata"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bus fans events out to subscribers without ever blocking the publisher
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	logger *logrus.Logger
}

// NewBus creates a new event bus
func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a listener with the given buffer size. The returned
// func unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with room in its buffer; full
// subscribers miss the event.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.WithFields(logrus.Fields{
				"event":      e.Type,
				"subscriber": id,
			}).Warn("Dropping event for slow subscriber")
		}
	}
}
