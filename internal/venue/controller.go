// Package venue orchestrates mode switches and group-level mute
// semantics on top of the intent resolver, guardrail engine, and
// subscription hub. One Controller owns exactly one transport session.
package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/console"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/guardrail"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/hub"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/intent"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/state"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/transport"
)

// Mode is a named venue operating mode.
type Mode string

const (
	ModeDoors    Mode = "doors"
	ModeShow     Mode = "show"
	ModeInterval Mode = "interval"
	ModeCurfew   Mode = "curfew"
)

// GroupState is the aggregate mute state of a semantic group.
type GroupState string

const (
	// GroupMuted means every member of the group reads muted.
	GroupMuted GroupState = "muted"

	// GroupLive means every member of the group reads unmuted.
	GroupLive GroupState = "live"

	// GroupMixed means members disagree.
	GroupMixed GroupState = "mixed"

	// GroupUnknown means at least one member has no last-known value.
	GroupUnknown GroupState = "unknown"
)

// Session is the slice of the transport session the controller uses.
type Session interface {
	State() transport.State
	Send(ctx context.Context, op transport.Operation) (transport.Ack, error)
	Subscribe(ctx context.Context, path string) error
}

// Config wires a Controller together.
type Config struct {
	Session  Session
	Registry *console.Registry
	Resolver *intent.Resolver
	Engine   *guardrail.Engine
	Hub      *hub.Hub
	Store    *state.Store
	Variant  string
	Modes    map[Mode]intent.Intent
	Rules    []guardrail.Rule
	Logger   zerolog.Logger
}

// Controller is the composition root: it owns one transport session and
// funnels every read-modify-write of console state (mode switches, group
// operations, guardrail enforcement) through a single serialization
// point so they never interleave.
type Controller struct {
	session  Session
	registry *console.Registry
	resolver *intent.Resolver
	engine   *guardrail.Engine
	hub      *hub.Hub
	store    *state.Store
	variant  string
	modes    map[Mode]intent.Intent
	rules    []guardrail.Rule
	log      zerolog.Logger

	// opMu serializes intent application and guardrail enforcement;
	// both read-modify-write the same console state.
	opMu sync.Mutex

	mu      sync.Mutex
	current Mode
}

// New creates a venue controller.
func New(cfg Config) *Controller {
	return &Controller{
		session:  cfg.Session,
		registry: cfg.Registry,
		resolver: cfg.Resolver,
		engine:   cfg.Engine,
		hub:      cfg.Hub,
		store:    cfg.Store,
		variant:  cfg.Variant,
		modes:    cfg.Modes,
		rules:    cfg.Rules,
		log:      cfg.Logger,
	}
}

// SwitchMode applies the intent configured for the given mode.
//
// The call is atomic from the caller's perspective: either a full
// ApplicationReport is produced (possibly containing unsupported or
// failed entries), or the call fails with a *ModeSwitchError before any
// operation is attempted. Re-switching to the current mode against
// unchanged console state yields a report with no applied entries.
//
// A cancelled switch returns the report covering exactly the operations
// that completed before cancellation, together with the context error.
func (c *Controller) SwitchMode(ctx context.Context, mode Mode) (*intent.ApplicationReport, error) {
	in, ok := c.modes[mode]
	if !ok {
		return nil, &ModeSwitchError{Mode: mode, Err: ErrInvalidMode}
	}
	if c.session.State() != transport.StateConnected {
		return nil, &ModeSwitchError{Mode: mode, Err: ErrNotConnected}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	report, err := c.resolver.Apply(ctx, in, c.variant, c.session)
	if err != nil {
		return report, err
	}

	c.mu.Lock()
	c.current = mode
	c.mu.Unlock()

	c.log.Info().Str("mode", string(mode)).Msg("venue mode switched")
	return report, nil
}

// CurrentMode returns the last successfully applied mode.
func (c *Controller) CurrentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetGroupState mutes or unmutes a semantic group.
func (c *Controller) SetGroupState(ctx context.Context, group console.Group, action intent.GroupAction) error {
	if c.session.State() != transport.StateConnected {
		return &GroupOpError{Group: group, Err: ErrNotConnected}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	in := intent.Intent{
		Name:   "group/" + string(group),
		Groups: map[console.Group]intent.GroupAction{group: action},
	}
	report, err := c.resolver.Apply(ctx, in, c.variant, c.session)
	if err != nil {
		return &GroupOpError{Group: group, Err: err}
	}
	for _, res := range report.Results {
		if res.Outcome == intent.OutcomeUnsupported || res.Outcome == intent.OutcomeFailed {
			return &GroupOpError{Group: group, Err: errors.New(res.Reason)}
		}
	}
	return nil
}

// GroupState reads the aggregate mute state of a group from last-known
// console values.
func (c *Controller) GroupState(group console.Group) (GroupState, error) {
	paths, err := c.registry.ResolveGroup(c.variant, group, console.CapInputMute)
	if err != nil {
		return GroupUnknown, &GroupOpError{Group: group, Err: err}
	}

	snap := c.store.Snapshot()
	muted, unmuted := 0, 0
	for _, path := range paths {
		m, ok := snap.Bool(path)
		if !ok {
			return GroupUnknown, nil
		}
		if m {
			muted++
		} else {
			unmuted++
		}
	}

	switch {
	case unmuted == 0:
		return GroupMuted, nil
	case muted == 0:
		return GroupLive, nil
	default:
		return GroupMixed, nil
	}
}

// EnforceOnce runs one guardrail pass over the current snapshot,
// serialized against mode switches.
func (c *Controller) EnforceOnce(ctx context.Context) (*guardrail.EnforcementReport, error) {
	if c.session.State() != transport.StateConnected {
		return nil, ErrNotConnected
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.engine.Enforce(ctx, c.rules, c.variant, c.store.Snapshot(), c.session)
}

// Prime subscribes to console state and installs the hub classification
// rules derived from the variant and the configured guardrails, so the
// snapshot converges before the first mode switch.
func (c *Controller) Prime(ctx context.Context) error {
	v, err := c.registry.Variant(c.variant)
	if err != nil {
		return err
	}

	for ch := 1; ch <= v.Limits.Channels; ch++ {
		if path, err := c.registry.Resolve(c.variant, console.CapInputMute, ch); err == nil {
			c.hub.ClassifyPath(path, hub.Classification{Tag: hub.TagMute})
		}
		if path, err := c.registry.Resolve(c.variant, console.CapInputPhantom, ch); err == nil {
			c.hub.ClassifyPath(path, hub.Classification{Tag: hub.TagPhantom})
		}
	}

	if path, err := c.registry.Resolve(c.variant, console.CapOutputLevel, 0); err == nil {
		threshold, found := c.outputThreshold()
		if found {
			c.hub.ClassifyPath(path, hub.Classification{Tag: hub.TagOutputLevel, Threshold: threshold})
		}
	}

	if err := c.session.Subscribe(ctx, ""); err != nil {
		return fmt.Errorf("subscribe to console state: %w", err)
	}
	return nil
}

// outputThreshold takes the tightest configured output ceiling as the
// over-threshold classification level.
func (c *Controller) outputThreshold() (float64, bool) {
	found := false
	threshold := 0.0
	for _, rule := range c.rules {
		if rule.Kind != guardrail.KindOutputCeiling {
			continue
		}
		if !found || rule.Ceiling < threshold {
			threshold = rule.Ceiling
			found = true
		}
	}
	return threshold, found
}

// Watch runs continuous enforcement: every guardrail-relevant event
// settled by the hub triggers one enforcement pass. Returns when ctx is
// cancelled. Passes that find the session disconnected are skipped; the
// next event after reconnection picks enforcement back up.
func (c *Controller) Watch(ctx context.Context) {
	trigger := make(chan struct{}, 1)

	cancel := c.hub.Subscribe(nil, func(ev hub.Event) {
		switch ev.(type) {
		case hub.PhantomChanged, hub.OutputOverThreshold, hub.MuteStateChanged:
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			report, err := c.EnforceOnce(ctx)
			if err != nil {
				if !errors.Is(err, ErrNotConnected) && !errors.Is(err, context.Canceled) {
					c.log.Error().Err(err).Msg("guardrail enforcement pass failed")
				}
				continue
			}
			if n := report.Count(guardrail.StatusUnresolved); n > 0 {
				c.log.Warn().Int("unresolved", n).Msg("enforcement pass left violations unresolved")
			}
		}
	}
}
