package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

type collector struct {
	mu     sync.Mutex
	events []domoutbox.Event
	seen   chan struct{}
}

func newCollector(expected int) *collector {
	return &collector{seen: make(chan struct{}, expected)}
}

func (c *collector) handle(_ context.Context, e domoutbox.Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func startBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBus(nil)
	ctx := context.Background()
	bus.Start(ctx)
	t.Cleanup(func() { bus.Stop(ctx) })
	return bus
}

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := startBus(t)
	c := newCollector(2)
	bus.Subscribe("thing.happened", c.handle)

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "thing.happened"}))
	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "thing.happened"}))

	c.wait(t, 2)
	assert.Equal(t, 2, c.count())
}

func TestBusFansOutToAllSubscribers(t *testing.T) {
	bus := startBus(t)
	first := newCollector(1)
	second := newCollector(1)
	bus.Subscribe("thing.happened", first.handle)
	bus.Subscribe("thing.happened", second.handle)

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "thing.happened"}))

	first.wait(t, 1)
	second.wait(t, 1)
}

func TestBusRoutesByEventName(t *testing.T) {
	bus := startBus(t)
	c := newCollector(1)
	bus.Subscribe("wanted", c.handle)

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "ignored"}))
	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "wanted"}))

	c.wait(t, 1)
	assert.Equal(t, 1, c.count())
	assert.Equal(t, "wanted", c.events[0].EventName())
}

func TestBusSurvivesHandlerPanic(t *testing.T) {
	bus := startBus(t)
	c := newCollector(1)
	bus.Subscribe("thing.happened", func(context.Context, domoutbox.Event) error {
		panic("handler exploded")
	})
	bus.Subscribe("thing.happened", c.handle)

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "thing.happened"}))

	// The sibling handler and subsequent events still run.
	c.wait(t, 1)
	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "thing.happened"}))
	c.wait(t, 1)
	assert.Equal(t, 2, c.count())
}

func TestBusIgnoresNilEvents(t *testing.T) {
	bus := startBus(t)
	assert.NoError(t, bus.Publish(context.Background(), nil))
}
