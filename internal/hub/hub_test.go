package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/state"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/transport"
)

const testWindow = 20 * time.Millisecond

// collector gathers dispatched events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) listen(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestHub(t *testing.T) (*Hub, *state.Store, chan transport.Update) {
	t.Helper()
	store := state.NewStore()
	h := NewHub(store, testWindow, zerolog.Nop())

	updates := make(chan transport.Update, 64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx, updates)

	return h, store, updates
}

func TestDebounceCollapsesBurstToLastValue(t *testing.T) {
	h, _, updates := newTestHub(t)
	h.ClassifyPath("ch.1.mute", Classification{Tag: TagMute})

	c := &collector{}
	h.Subscribe([]string{"ch.1.mute"}, c.listen)

	// A burst of rapid updates within the window.
	for _, v := range []bool{true, false, true, false} {
		updates <- transport.Update{Path: "ch.1.mute", Value: v}
	}

	require.Eventually(t, c.countAtLeast(1), time.Second, time.Millisecond)

	// Exactly one event, carrying the last value of the burst.
	time.Sleep(3 * testWindow)
	events := c.snapshot()
	require.Len(t, events, 1)
	ev, ok := events[0].(MuteStateChanged)
	require.True(t, ok)
	assert.False(t, ev.Muted)
}

func (c *collector) countAtLeast(n int) func() bool {
	return func() bool { return c.count() >= n }
}

func TestSeparateBurstsEmitSeparateEvents(t *testing.T) {
	h, _, updates := newTestHub(t)
	h.ClassifyPath("ch.1.mute", Classification{Tag: TagMute})

	c := &collector{}
	h.Subscribe([]string{"ch.1.mute"}, c.listen)

	updates <- transport.Update{Path: "ch.1.mute", Value: true}
	require.Eventually(t, c.countAtLeast(1), time.Second, time.Millisecond)

	updates <- transport.Update{Path: "ch.1.mute", Value: false}
	require.Eventually(t, c.countAtLeast(2), time.Second, time.Millisecond)

	events := c.snapshot()
	assert.True(t, events[0].(MuteStateChanged).Muted)
	assert.False(t, events[1].(MuteStateChanged).Muted)
}

func TestStoreIsUpdatedWithoutDebounce(t *testing.T) {
	_, store, updates := newTestHub(t)

	updates <- transport.Update{Path: "ch.3.mute", Value: true}

	// The last-known store must reflect the update before the debounce
	// window elapses.
	require.Eventually(t, func() bool {
		v, ok := store.Get("ch.3.mute")
		return ok && v == true
	}, testWindow/2, time.Millisecond)
}

func TestOutputLevelThresholdClassification(t *testing.T) {
	h, _, updates := newTestHub(t)
	h.ClassifyPath("out.level", Classification{Tag: TagOutputLevel, Threshold: -6})

	c := &collector{}
	h.Subscribe([]string{"out.level"}, c.listen)

	// Below the threshold: no event.
	updates <- transport.Update{Path: "out.level", Value: -12.0}
	time.Sleep(3 * testWindow)
	assert.Zero(t, c.count())

	// Above the threshold: OutputOverThreshold.
	updates <- transport.Update{Path: "out.level", Value: -2.0}
	require.Eventually(t, c.countAtLeast(1), time.Second, time.Millisecond)

	ev, ok := c.snapshot()[0].(OutputOverThreshold)
	require.True(t, ok)
	assert.Equal(t, -2.0, ev.Value)
	assert.Equal(t, -6.0, ev.Threshold)
}

func TestPhantomClassificationCoercesNumericValues(t *testing.T) {
	h, _, updates := newTestHub(t)
	h.ClassifyPath("ch.2.phantom", Classification{Tag: TagPhantom})

	c := &collector{}
	h.Subscribe(nil, c.listen)

	// Some firmware reports switches as 0/1.
	updates <- transport.Update{Path: "ch.2.phantom", Value: float64(1)}
	require.Eventually(t, c.countAtLeast(1), time.Second, time.Millisecond)

	ev, ok := c.snapshot()[0].(PhantomChanged)
	require.True(t, ok)
	assert.True(t, ev.On)
}

func TestCancelledSubscriptionReceivesNothing(t *testing.T) {
	h, _, updates := newTestHub(t)
	h.ClassifyPath("ch.1.mute", Classification{Tag: TagMute})

	c := &collector{}
	cancel := h.Subscribe([]string{"ch.1.mute"}, c.listen)
	cancel()

	updates <- transport.Update{Path: "ch.1.mute", Value: true}
	time.Sleep(3 * testWindow)
	assert.Zero(t, c.count())
}

func TestListenerOnlySeesItsPaths(t *testing.T) {
	h, _, updates := newTestHub(t)
	h.ClassifyPath("ch.1.mute", Classification{Tag: TagMute})
	h.ClassifyPath("ch.2.mute", Classification{Tag: TagMute})

	c := &collector{}
	h.Subscribe([]string{"ch.1.mute"}, c.listen)

	updates <- transport.Update{Path: "ch.2.mute", Value: true}
	updates <- transport.Update{Path: "ch.1.mute", Value: true}

	require.Eventually(t, c.countAtLeast(1), time.Second, time.Millisecond)
	time.Sleep(3 * testWindow)

	events := c.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "ch.1.mute", events[0].(MuteStateChanged).Path)
}

func TestDisconnectionClearsLastKnownState(t *testing.T) {
	h, store, _ := newTestHub(t)
	store.Set("ch.1.mute", true)

	h.HandleConnectionState(transport.StateReconnecting)

	_, ok := store.Get("ch.1.mute")
	assert.False(t, ok, "stale values must not survive a connection loss")
}

func TestConnectionStateEventsReachAllListeners(t *testing.T) {
	h, _, _ := newTestHub(t)

	c := &collector{}
	h.Subscribe([]string{"ch.1.mute"}, c.listen)

	h.HandleConnectionState(transport.StateConnected)
	h.HandleConnectionState(transport.StateReconnecting)

	events := c.snapshot()
	require.Len(t, events, 2)
	assert.IsType(t, Connected{}, events[0])
	assert.IsType(t, Disconnected{}, events[1])
}
