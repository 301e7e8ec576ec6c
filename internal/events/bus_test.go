package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperTrader/internal/domain"
)

func tickEvent(price float64) domain.Event {
	return domain.Event{
		Type: domain.EventTick,
		Tick: &domain.Tick{Symbol: "BTCUSDT", Price: price, Timestamp: time.Unix(0, 0)},
	}
}

func TestBus_PublishInOrder(t *testing.T) {
	bus := NewBus(nil)
	ch, unsubscribe := bus.Subscribe(10)
	defer unsubscribe()

	for i := 1; i <= 3; i++ {
		bus.Publish(tickEvent(float64(i)))
	}

	for i := 1; i <= 3; i++ {
		evt := <-ch
		require.NotNil(t, evt.Tick)
		assert.Equal(t, float64(i), evt.Tick.Price)
	}
}

func TestBus_FullBufferDrops(t *testing.T) {
	bus := NewBus(nil)
	ch, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	bus.Publish(tickEvent(1))
	bus.Publish(tickEvent(2))

	assert.Equal(t, uint64(1), bus.Dropped())
	evt := <-ch
	assert.Equal(t, 1.0, evt.Tick.Price)
	assert.Len(t, ch, 0)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	ch, unsubscribe := bus.Subscribe(1)

	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	bus.Publish(tickEvent(1))
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(nil)
	ch1, unsub1 := bus.Subscribe(1)
	ch2, _ := bus.Subscribe(1)

	bus.Close()
	unsub1()

	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	ch3, _ := bus.Subscribe(1)
	_, ok = <-ch3
	assert.False(t, ok)
}
