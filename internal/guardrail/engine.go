package guardrail

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/console"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/state"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/transport"
)

// Sender issues one corrective operation against the console.
type Sender interface {
	Send(ctx context.Context, op transport.Operation) (transport.Ack, error)
}

// Engine evaluates guardrail rules against state snapshots.
type Engine struct {
	registry *console.Registry
	log      zerolog.Logger
}

// NewEngine creates a guardrail engine resolving paths through registry.
func NewEngine(registry *console.Registry, log zerolog.Logger) *Engine {
	return &Engine{registry: registry, log: log}
}

// Evaluate checks every rule against the snapshot and returns all
// violations, in rule configuration order. Violations from different
// rules on the same path are all reported; no rule wins silently.
// No corrective action is taken.
func (e *Engine) Evaluate(rules []Rule, variant string, snap state.Snapshot) []Violation {
	var violations []Violation
	for _, rule := range rules {
		violations = append(violations, e.evaluateRule(rule, variant, snap)...)
	}
	return violations
}

// Enforce evaluates every rule and, for rules in enforce mode, issues
// the corrective operation for each violation and re-checks that one
// rule against the console-confirmed value. A violation whose correction
// fails, or whose corrected state still violates the rule, is reported
// as unresolved; it is never retried further and never dropped.
// Audit-mode rules are reported exactly as Evaluate would.
func (e *Engine) Enforce(ctx context.Context, rules []Rule, variant string, snap state.Snapshot, sess Sender) (*EnforcementReport, error) {
	report := &EnforcementReport{}

	for _, rule := range rules {
		for _, v := range e.evaluateRule(rule, variant, snap) {
			if err := ctx.Err(); err != nil {
				report.Violations = append(report.Violations, v)
				return report, err
			}

			if v.Status != StatusDetected || rule.Mode != ModeEnforce {
				report.Violations = append(report.Violations, v)
				continue
			}

			report.Violations = append(report.Violations, e.correct(ctx, rule, v, sess))
		}
	}

	if n := report.Count(StatusUnresolved); n > 0 {
		e.log.Warn().Int("unresolved", n).Msg("guardrail violations left unresolved")
	}
	return report, nil
}

// correct issues the corrective operation for one violation and
// re-checks the corrected rule once.
func (e *Engine) correct(ctx context.Context, rule Rule, v Violation, sess Sender) Violation {
	ack, err := sess.Send(ctx, transport.Operation{Path: v.Path, Value: v.Expected})
	if err != nil {
		v.Status = StatusUnresolved
		v.Reason = fmt.Sprintf("corrective action failed: %v", err)
		e.log.Error().Str("rule", rule.Name).Str("path", v.Path).Err(err).Msg("guardrail correction failed")
		return v
	}

	confirmed := ack.Value
	if confirmed == nil {
		confirmed = v.Expected
	}

	if !ruleSatisfied(rule, confirmed) {
		v.Status = StatusUnresolved
		v.Observed = confirmed
		v.Reason = "still violating after correction"
		return v
	}

	v.Status = StatusResolved
	e.log.Info().Str("rule", rule.Name).Str("path", v.Path).Msg("guardrail violation corrected")
	return v
}

// evaluateRule checks one rule against the snapshot. Values missing from
// the snapshot are not asserted about. A rule the variant cannot express
// yields a single skipped violation rather than a fatal error.
func (e *Engine) evaluateRule(rule Rule, variant string, snap state.Snapshot) []Violation {
	switch rule.Kind {
	case KindPhantomAllowlist:
		return e.evaluatePhantom(rule, variant, snap)
	case KindOutputCeiling:
		return e.evaluateCeiling(rule, variant, snap)
	case KindMuteRequired:
		return e.evaluateMute(rule, variant, snap)
	default:
		return []Violation{{
			Rule:   rule.Name,
			Status: StatusSkipped,
			Reason: fmt.Sprintf("unknown rule kind %q", rule.Kind),
		}}
	}
}

func (e *Engine) evaluatePhantom(rule Rule, variant string, snap state.Snapshot) []Violation {
	v, err := e.registry.Variant(variant)
	if err != nil {
		return []Violation{skipped(rule, err)}
	}
	if !v.Supports(console.CapInputPhantom) {
		return []Violation{skipped(rule, fmt.Errorf("variant %q has no remote phantom control", variant))}
	}

	allowed := make(map[int]bool, len(rule.Channels))
	for _, ch := range rule.Channels {
		allowed[ch] = true
	}

	var violations []Violation
	for ch := 1; ch <= v.Limits.Channels; ch++ {
		if allowed[ch] {
			continue
		}
		path, err := e.registry.Resolve(variant, console.CapInputPhantom, ch)
		if err != nil {
			violations = append(violations, skipped(rule, err))
			continue
		}
		if on, ok := snap.Bool(path); ok && on {
			violations = append(violations, Violation{
				Rule:     rule.Name,
				Path:     path,
				Observed: true,
				Expected: false,
				Status:   StatusDetected,
			})
		}
	}
	return violations
}

func (e *Engine) evaluateCeiling(rule Rule, variant string, snap state.Snapshot) []Violation {
	path, err := e.registry.Resolve(variant, console.CapOutputLevel, 0)
	if err != nil {
		return []Violation{skipped(rule, err)}
	}

	level, ok := snap.Float(path)
	if !ok || level <= rule.Ceiling {
		return nil
	}
	return []Violation{{
		Rule:     rule.Name,
		Path:     path,
		Observed: level,
		Expected: rule.Ceiling,
		Status:   StatusDetected,
	}}
}

func (e *Engine) evaluateMute(rule Rule, variant string, snap state.Snapshot) []Violation {
	var violations []Violation
	for _, ch := range rule.Channels {
		path, err := e.registry.Resolve(variant, console.CapInputMute, ch)
		if err != nil {
			violations = append(violations, skipped(rule, err))
			continue
		}
		if muted, ok := snap.Bool(path); ok && !muted {
			violations = append(violations, Violation{
				Rule:     rule.Name,
				Path:     path,
				Observed: false,
				Expected: true,
				Status:   StatusDetected,
			})
		}
	}
	return violations
}

// ruleSatisfied re-checks only the corrected rule against the confirmed
// value, a deliberate locality choice over re-evaluating the whole rule
// set after each correction. Confirmed values go through the same weak
// coercion as snapshot reads, so a console acking numerically is not
// mistaken for a failed correction.
func ruleSatisfied(rule Rule, confirmed any) bool {
	switch rule.Kind {
	case KindPhantomAllowlist:
		on, ok := state.CoerceBool(confirmed)
		return ok && !on
	case KindOutputCeiling:
		level, ok := state.CoerceFloat(confirmed)
		return ok && level <= rule.Ceiling
	case KindMuteRequired:
		muted, ok := state.CoerceBool(confirmed)
		return ok && muted
	default:
		return false
	}
}

func skipped(rule Rule, err error) Violation {
	return Violation{
		Rule:   rule.Name,
		Status: StatusSkipped,
		Reason: err.Error(),
	}
}
