// Package hub turns raw console notifications into typed events:
// it debounces per-path update bursts, classifies the settled values,
// and dispatches to registered listeners.
package hub

// Event is a typed console event. Exactly one of the concrete types
// below; immutable; delivered at most once per listener per settled
// change.
type Event interface {
	isEvent()
}

// Connected signals that the transport session reached the console.
type Connected struct{}

// Disconnected signals that the transport session lost the console.
type Disconnected struct{}

// OutputOverThreshold signals that an output-level path settled above
// its configured threshold.
type OutputOverThreshold struct {
	Path      string
	Value     float64
	Threshold float64
}

// PhantomChanged signals that a phantom-power path settled to a new
// state.
type PhantomChanged struct {
	Path string
	On   bool
}

// MuteStateChanged signals that a mute path settled to a new state.
type MuteStateChanged struct {
	Path  string
	Muted bool
}

func (Connected) isEvent()           {}
func (Disconnected) isEvent()        {}
func (OutputOverThreshold) isEvent() {}
func (PhantomChanged) isEvent()      {}
func (MuteStateChanged) isEvent()    {}
