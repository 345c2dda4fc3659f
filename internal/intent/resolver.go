package intent

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/console"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/state"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/transport"
)

// Sender issues one operation against the console and returns the
// console's confirmation.
type Sender interface {
	Send(ctx context.Context, op transport.Operation) (transport.Ack, error)
}

// plannedOp is one concrete operation derived from a declarative element.
type plannedOp struct {
	source  string
	path    string
	desired any

	// satisfied reports whether the last-known value already meets the
	// element. For exact-value elements this is equality; for the output
	// ceiling it is "at or below".
	satisfied func(current any, known bool) bool
}

// Resolver turns intents into console operations.
type Resolver struct {
	registry *console.Registry
	store    *state.Store
	log      zerolog.Logger
}

// NewResolver creates a resolver reading last-known state from store.
func NewResolver(registry *console.Registry, store *state.Store, log zerolog.Logger) *Resolver {
	return &Resolver{registry: registry, store: store, log: log}
}

// Apply applies an intent to a console variant through the given sender.
//
// Elements are resolved and issued in a fixed order: safety constraints
// first, then output-level constraints, then group actions, so a
// guardrail never observes a state that momentarily violates a
// constraint it is meant to prevent. A resolution failure is recorded as
// unsupported and does not abort the batch. Operations whose desired
// value matches the last-known value are recorded as ignored and not
// sent. Resolution is deterministic: the same intent, variant, and prior
// state always yield the same report.
//
// If ctx is cancelled mid-batch, the returned report contains exactly
// the operations handled up to that point, and the context error is
// returned alongside it.
func (r *Resolver) Apply(ctx context.Context, in Intent, variant string, sess Sender) (*ApplicationReport, error) {
	report := &ApplicationReport{Intent: in.Name, Variant: variant}
	snapshot := r.store.Snapshot()

	plan := r.planSafety(in, variant, report)
	plan = append(plan, r.planOutputs(in, variant, report)...)
	plan = append(plan, r.planGroups(in, variant, report)...)

	for _, op := range plan {
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			r.log.Warn().Str("intent", in.Name).Int("handled", len(report.Results)).Msg("intent application cancelled")
			return report, err
		}

		current, known := snapshot[op.path]
		if op.satisfied(current, known) {
			report.add(OperationResult{
				Source:  op.source,
				Path:    op.path,
				Outcome: OutcomeIgnored,
				Value:   op.desired,
				Reason:  "already at desired value",
			})
			continue
		}

		ack, err := sess.Send(ctx, transport.Operation{Path: op.path, Value: op.desired})
		if err != nil {
			report.add(OperationResult{
				Source:  op.source,
				Path:    op.path,
				Outcome: OutcomeFailed,
				Value:   op.desired,
				Reason:  err.Error(),
			})
			continue
		}

		confirmed := ack.Value
		if confirmed == nil {
			confirmed = op.desired
		}
		r.store.Set(op.path, confirmed)

		report.add(OperationResult{
			Source:  op.source,
			Path:    op.path,
			Outcome: OutcomeApplied,
			Value:   confirmed,
		})
	}

	r.log.Info().
		Str("intent", in.Name).
		Str("variant", variant).
		Int("applied", report.Count(OutcomeApplied)).
		Int("ignored", report.Count(OutcomeIgnored)).
		Int("unsupported", report.Count(OutcomeUnsupported)).
		Int("failed", report.Count(OutcomeFailed)).
		Msg("intent applied")

	return report, nil
}

// planSafety expands phantom allow-list constraints: phantom must be off
// on every channel not on the list.
func (r *Resolver) planSafety(in Intent, variant string, report *ApplicationReport) []plannedOp {
	var plan []plannedOp

	for _, sc := range in.Safety {
		v, err := r.registry.Variant(variant)
		if err != nil {
			report.add(OperationResult{
				Source:  "safety/phantom",
				Outcome: OutcomeUnsupported,
				Reason:  err.Error(),
			})
			continue
		}

		allowed := make(map[int]bool, len(sc.PhantomAllowed))
		for _, ch := range sc.PhantomAllowed {
			allowed[ch] = true
		}

		if !v.Supports(console.CapInputPhantom) {
			report.add(OperationResult{
				Source:  "safety/phantom",
				Outcome: OutcomeUnsupported,
				Reason:  fmt.Sprintf("variant %q has no remote phantom control", variant),
			})
			continue
		}

		for ch := 1; ch <= v.Limits.Channels; ch++ {
			if allowed[ch] {
				continue
			}
			path, err := r.registry.Resolve(variant, console.CapInputPhantom, ch)
			if err != nil {
				report.add(OperationResult{
					Source:  "safety/phantom",
					Outcome: OutcomeUnsupported,
					Reason:  err.Error(),
				})
				continue
			}
			plan = append(plan, plannedOp{
				source:    "safety/phantom",
				path:      path,
				desired:   false,
				satisfied: matches(false),
			})
		}
	}
	return plan
}

// planOutputs expands output ceilings against the main output level.
func (r *Resolver) planOutputs(in Intent, variant string, report *ApplicationReport) []plannedOp {
	var plan []plannedOp

	for _, oc := range in.Outputs {
		path, err := r.registry.Resolve(variant, console.CapOutputLevel, 0)
		if err != nil {
			report.add(OperationResult{
				Source:  "output/max-level",
				Outcome: OutcomeUnsupported,
				Reason:  err.Error(),
			})
			continue
		}

		max := oc.MaxLevel
		plan = append(plan, plannedOp{
			source:  "output/max-level",
			path:    path,
			desired: max,
			satisfied: func(current any, known bool) bool {
				if !known {
					return false
				}
				level, ok := state.CoerceFloat(current)
				return ok && level <= max
			},
		})
	}
	return plan
}

// planGroups expands group mute/unmute actions, groups in name order so
// resolution is deterministic.
func (r *Resolver) planGroups(in Intent, variant string, report *ApplicationReport) []plannedOp {
	groups := make([]console.Group, 0, len(in.Groups))
	for g := range in.Groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	var plan []plannedOp
	for _, g := range groups {
		action := in.Groups[g]
		source := "group/" + string(g)

		desired := action == ActionMute
		if action != ActionMute && action != ActionUnmute {
			report.add(OperationResult{
				Source:  source,
				Outcome: OutcomeUnsupported,
				Reason:  fmt.Sprintf("unknown group action %q", action),
			})
			continue
		}

		paths, err := r.registry.ResolveGroup(variant, g, console.CapInputMute)
		if err != nil {
			report.add(OperationResult{
				Source:  source,
				Outcome: OutcomeUnsupported,
				Reason:  err.Error(),
			})
			continue
		}

		for _, path := range paths {
			plan = append(plan, plannedOp{
				source:    source,
				path:      path,
				desired:   desired,
				satisfied: matches(desired),
			})
		}
	}
	return plan
}

// matches builds the satisfied check for an exact-value element. The
// last-known value goes through the same weak coercion the event hub
// applies, so a console that reports switches as 0/1 still counts as
// already at the desired state.
func matches(desired any) func(current any, known bool) bool {
	return func(current any, known bool) bool {
		if !known {
			return false
		}
		switch want := desired.(type) {
		case bool:
			got, ok := state.CoerceBool(current)
			return ok && got == want
		case float64:
			got, ok := state.CoerceFloat(current)
			return ok && got == want
		default:
			return current == desired
		}
	}
}
