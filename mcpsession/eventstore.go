package mcpsession

import "sync"

// DefaultEventBuffer bounds the replay buffer per session.
const DefaultEventBuffer = 256

// Event is one server-to-client notification kept for replay.
type Event struct {
	ID   uint64
	Data []byte
}

// EventStore is a bounded, monotonically numbered replay buffer for a
// session's notification stream. It survives reconnects: a client that
// presents Last-Event-ID on a new stream receives everything appended
// after that ID, up to the buffer bound.
type EventStore struct {
	mu     sync.Mutex
	events []Event
	nextID uint64
	limit  int
}

// NewEventStore creates a replay buffer holding at most limit events.
func NewEventStore(limit int) *EventStore {
	if limit <= 0 {
		limit = DefaultEventBuffer
	}
	return &EventStore{limit: limit}
}

// Append stores data under the next event ID and returns the event.
// The oldest event is dropped once the buffer is full.
func (s *EventStore) Append(data []byte) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ev := Event{ID: s.nextID, Data: data}
	s.events = append(s.events, ev)
	if len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
	return ev
}

// After returns a copy of every buffered event with an ID greater than
// lastID, oldest first.
func (s *EventStore) After(lastID uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := 0
	for i < len(s.events) && s.events[i].ID <= lastID {
		i++
	}
	if i == len(s.events) {
		return nil
	}
	out := make([]Event, len(s.events)-i)
	copy(out, s.events[i:])
	return out
}

// LastID returns the ID of the most recently appended event, or zero.
func (s *EventStore) LastID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// Len returns the number of buffered events.
func (s *EventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
