package mcpsession

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrTransportClosed is returned by operations on a transport that
	// has already been shut down, typically because the reaper or a
	// DELETE request closed the session while another request was in
	// flight.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrStreamActive is returned when a notification stream is already
	// open for the session. The HTTP layer maps it to 409 Conflict.
	ErrStreamActive = errors.New("notification stream already active")
)

// Transport is one attachment generation of a session: the write path
// for server notifications plus at most one live SSE subscriber.
// Reconnecting replaces the transport while the session keeps its
// server instance and event store.
type Transport struct {
	sessionID string
	events    *EventStore

	mu     sync.Mutex
	stream *stream
	closed bool
}

// stream is a registered notification subscriber.
type stream struct {
	ctx  context.Context
	ch   chan Event
	once sync.Once
}

func (st *stream) close() {
	st.once.Do(func() { close(st.ch) })
}

// defunct reports whether the subscriber's request has already gone
// away. Browser refreshes drop the SSE connection without the handler
// always unregistering promptly, so registrations are double-checked
// against the request context before they can block a new stream.
func (st *stream) defunct() bool {
	return st.ctx.Err() != nil
}

func newTransport(sessionID string, events *EventStore) *Transport {
	return &Transport{sessionID: sessionID, events: events}
}

// Publish appends a notification to the replay buffer and forwards it
// to the live stream, if any. A subscriber that cannot keep up loses
// the live delivery and recovers it via Last-Event-ID replay.
func (t *Transport) Publish(data []byte) (Event, error) {
	ev := t.events.Append(data)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ev, ErrTransportClosed
	}
	if t.stream != nil && !t.stream.defunct() {
		select {
		case t.stream.ch <- ev:
		default:
		}
	}
	return ev, nil
}

// Subscribe registers the notification stream for this transport. A
// defunct registration left behind by a dropped connection is purged
// first; resuming (the caller presented Last-Event-ID) also displaces
// the old registration, since a resuming client has by definition
// abandoned its previous stream. A still-live stream otherwise yields
// ErrStreamActive.
//
// The returned cancel func unregisters the stream and must be called
// when the subscriber is done.
func (t *Transport) Subscribe(ctx context.Context, resuming bool) (<-chan Event, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil, ErrTransportClosed
	}
	if t.stream != nil {
		if !resuming && !t.stream.defunct() {
			return nil, nil, ErrStreamActive
		}
		t.stream.close()
		t.stream = nil
	}

	st := &stream{ctx: ctx, ch: make(chan Event, 16)}
	t.stream = st

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.stream == st {
			t.stream = nil
		}
		st.close()
	}
	return st.ch, cancel, nil
}

// Close shuts the transport down and disconnects the live stream.
// Closing twice returns ErrTransportClosed; callers replacing a stale
// transport on reconnect tolerate that.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	t.closed = true
	if t.stream != nil {
		t.stream.close()
		t.stream = nil
	}
	return nil
}
