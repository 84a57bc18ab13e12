package mcpsession

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStoreAppend(t *testing.T) {
	s := NewEventStore(10)

	ev1 := s.Append([]byte("one"))
	ev2 := s.Append([]byte("two"))

	assert.Equal(t, uint64(1), ev1.ID)
	assert.Equal(t, uint64(2), ev2.ID)
	assert.Equal(t, uint64(2), s.LastID())
	assert.Equal(t, 2, s.Len())
}

func TestEventStoreAfter(t *testing.T) {
	s := NewEventStore(10)
	for i := 1; i <= 5; i++ {
		s.Append([]byte(fmt.Sprintf("event-%d", i)))
	}

	events := s.After(3)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(4), events[0].ID)
	assert.Equal(t, uint64(5), events[1].ID)

	assert.Nil(t, s.After(5))
	assert.Len(t, s.After(0), 5)
}

func TestEventStoreBound(t *testing.T) {
	s := NewEventStore(3)
	for i := 1; i <= 5; i++ {
		s.Append([]byte(fmt.Sprintf("event-%d", i)))
	}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, uint64(5), s.LastID())

	// The two oldest events fell out of the buffer; a replay from zero
	// starts at the oldest retained ID.
	events := s.After(0)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].ID)
}

func TestEventStoreDefaultLimit(t *testing.T) {
	s := NewEventStore(0)
	for i := 0; i < DefaultEventBuffer+10; i++ {
		s.Append([]byte("x"))
	}
	assert.Equal(t, DefaultEventBuffer, s.Len())
}
