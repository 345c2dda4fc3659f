package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/state"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/transport"
)

// DefaultDebounceWindow is used when the configured window is zero. The
// value is configuration, not a vendor constant.
const DefaultDebounceWindow = 150 * time.Millisecond

// Tag says how values on a path should be classified into events.
type Tag string

const (
	TagOutputLevel Tag = "output-level"
	TagPhantom     Tag = "phantom"
	TagMute        Tag = "mute"
)

// Classification is the per-path rule applied to settled values.
type Classification struct {
	Tag Tag

	// Threshold applies to TagOutputLevel: values above it emit
	// OutputOverThreshold.
	Threshold float64
}

type subscription struct {
	// paths is the set of paths the listener cares about; nil means all.
	// Connection events are always delivered.
	paths map[string]bool
	fn    func(Event)
}

// Hub receives raw value-change notifications, applies a trailing-edge
// debounce per path, classifies the settled value, and dispatches typed
// events to listeners. It also keeps the last-known-value store current,
// without debouncing, so command issuance always sees fresh state.
type Hub struct {
	store  *state.Store
	window time.Duration
	log    zerolog.Logger

	mu       sync.Mutex
	classify map[string]Classification
	subs     map[int]*subscription
	nextSub  int
	pending  map[string]*time.Timer
	latest   map[string]any

	// dispatchMu serializes listener invocation so events for one path
	// are delivered in the order their changes settled.
	dispatchMu sync.Mutex
}

// NewHub creates a hub with the given debounce window (zero selects
// DefaultDebounceWindow).
func NewHub(store *state.Store, window time.Duration, log zerolog.Logger) *Hub {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Hub{
		store:    store,
		window:   window,
		log:      log,
		classify: make(map[string]Classification),
		subs:     make(map[int]*subscription),
		pending:  make(map[string]*time.Timer),
		latest:   make(map[string]any),
	}
}

// ClassifyPath installs the classification rule for a path.
func (h *Hub) ClassifyPath(path string, c Classification) {
	h.mu.Lock()
	h.classify[path] = c
	h.mu.Unlock()
}

// Subscribe registers a listener for events on the given paths (nil
// means every classified path). Connection events are always delivered.
// The returned function cancels the registration.
func (h *Hub) Subscribe(paths []string, fn func(Event)) (cancel func()) {
	sub := &subscription{fn: fn}
	if paths != nil {
		sub.paths = make(map[string]bool, len(paths))
		for _, p := range paths {
			sub.paths[p] = true
		}
	}

	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = sub
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Run consumes raw updates until the channel closes or ctx is cancelled.
func (h *Hub) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.handleUpdate(u)
		case <-ctx.Done():
			return
		}
	}
}

// HandleConnectionState translates transport state transitions into
// connection events for all listeners. Losing the console also drops the
// last-known store, so a stale readback is never mistaken for current
// state after reconnecting.
func (h *Hub) HandleConnectionState(s transport.State) {
	switch s {
	case transport.StateConnected:
		h.dispatch("", Connected{})
	case transport.StateReconnecting, transport.StateFailed, transport.StateIdle:
		h.store.Clear()
		h.dispatch("", Disconnected{})
	}
}

// handleUpdate records the value immediately and (re)arms the per-path
// debounce timer. Multiple raw updates within the window collapse to the
// latest value, emitted once the window elapses with no further updates.
func (h *Hub) handleUpdate(u transport.Update) {
	h.store.Set(u.Path, u.Value)

	h.mu.Lock()
	h.latest[u.Path] = u.Value
	if timer, ok := h.pending[u.Path]; ok {
		timer.Reset(h.window)
		h.mu.Unlock()
		return
	}
	path := u.Path
	h.pending[path] = time.AfterFunc(h.window, func() { h.settle(path) })
	h.mu.Unlock()
}

// settle fires when a path has been quiet for a full window: classify
// the final value and dispatch the event.
func (h *Hub) settle(path string) {
	h.mu.Lock()
	value := h.latest[path]
	delete(h.latest, path)
	delete(h.pending, path)
	c, classified := h.classify[path]
	h.mu.Unlock()

	if !classified {
		return
	}

	ev, ok := h.classifyValue(path, c, value)
	if !ok {
		return
	}
	h.dispatch(path, ev)
}

// classifyValue turns a settled value into a typed event, or nothing if
// the value does not produce one (e.g. a level below its threshold).
func (h *Hub) classifyValue(path string, c Classification, value any) (Event, bool) {
	switch c.Tag {
	case TagOutputLevel:
		level, ok := state.CoerceFloat(value)
		if !ok {
			h.log.Debug().Str("path", path).Msg("unclassifiable output level value")
			return nil, false
		}
		if level <= c.Threshold {
			return nil, false
		}
		return OutputOverThreshold{Path: path, Value: level, Threshold: c.Threshold}, true

	case TagPhantom:
		on, ok := state.CoerceBool(value)
		if !ok {
			return nil, false
		}
		return PhantomChanged{Path: path, On: on}, true

	case TagMute:
		muted, ok := state.CoerceBool(value)
		if !ok {
			return nil, false
		}
		return MuteStateChanged{Path: path, Muted: muted}, true
	}
	return nil, false
}

// dispatch delivers one event to every interested listener. path is
// empty for connection events, which go to everyone.
func (h *Hub) dispatch(path string, ev Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, sub := range h.subs {
		if path != "" && sub.paths != nil && !sub.paths[path] {
			continue
		}
		fns = append(fns, sub.fn)
	}
	h.mu.Unlock()

	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
