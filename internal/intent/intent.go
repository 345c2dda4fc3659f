// Package intent translates vendor-neutral declarative intents into
// ordered console operations and reports what happened to each one.
package intent

import (
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/console"
)

// GroupAction is the desired state of a semantic group.
type GroupAction string

const (
	ActionMute   GroupAction = "mute"
	ActionUnmute GroupAction = "unmute"
)

// SafetyConstraint forces phantom power off on every input channel that
// is not on the allow-list.
type SafetyConstraint struct {
	PhantomAllowed []int
}

// OutputConstraint caps the main output level.
type OutputConstraint struct {
	MaxLevel float64
}

// Intent is a named, declarative desired console state. Immutable after
// load; never mutated by the resolver.
type Intent struct {
	Name    string
	Safety  []SafetyConstraint
	Outputs []OutputConstraint
	Groups  map[console.Group]GroupAction
}
