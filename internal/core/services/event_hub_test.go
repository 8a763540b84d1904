package services

import (
	"testing"

	"spacecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEventHub_FanOut(t *testing.T) {
	hub := NewEventHub(4, zaptest.NewLogger(t))
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	hub.Publish(domain.MuteStateChanged{UserID: "u1", Muted: true})

	for _, ch := range []<-chan domain.Event{a, b} {
		ev := <-ch
		assert.Equal(t, domain.EventMuteStateChanged, ev.Kind())
	}
}

func TestEventHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewEventHub(1, zaptest.NewLogger(t))
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(domain.OccupancyUpdate{Occupancy: 1})
	hub.Publish(domain.OccupancyUpdate{Occupancy: 2})

	ev := <-ch
	assert.Equal(t, 1, ev.(domain.OccupancyUpdate).Occupancy)
	assert.Len(t, ch, 0)
}

func TestEventHub_CancelAndClose(t *testing.T) {
	hub := NewEventHub(1, zaptest.NewLogger(t))
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount())

	other, _ := hub.Subscribe()
	hub.Close()
	_, open = <-other
	assert.False(t, open)

	late, _ := hub.Subscribe()
	_, open = <-late
	require.False(t, open)

	hub.Publish(domain.IdleTimeout{IdleMs: 1})
}
