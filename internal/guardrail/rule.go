// Package guardrail evaluates safety rules against console state and,
// in enforce mode, issues corrective operations.
package guardrail

// Mode selects whether a rule only reports violations or also corrects
// them. Audit and enforce are two operating modes of one evaluator, not
// separate rule types.
type Mode string

const (
	ModeAudit   Mode = "audit"
	ModeEnforce Mode = "enforce"
)

// Kind identifies the predicate and corrective action of a rule.
type Kind string

const (
	// KindPhantomAllowlist flags phantom power enabled on any channel
	// outside the rule's channel list; correction disables it.
	KindPhantomAllowlist Kind = "phantom-allowlist"

	// KindOutputCeiling flags the main output level above Ceiling;
	// correction pulls it down to Ceiling.
	KindOutputCeiling Kind = "output-ceiling"

	// KindMuteRequired flags any of the rule's channels unmuted;
	// correction mutes them.
	KindMuteRequired Kind = "mute-required"
)

// Rule is one configured guardrail: predicate, corrective action, and
// operating mode. Rules are independent of each other and evaluated in
// configuration order.
type Rule struct {
	Name string
	Kind Kind
	Mode Mode

	// Channels scopes per-channel rules: the allow-list for
	// KindPhantomAllowlist, the required-muted set for KindMuteRequired.
	Channels []int

	// Ceiling is the maximum main output level for KindOutputCeiling.
	Ceiling float64
}

// Status describes where a violation ended up.
type Status string

const (
	// StatusDetected means the violation was found; no correction was
	// attempted (audit mode, or Evaluate rather than Enforce).
	StatusDetected Status = "detected"

	// StatusResolved means the corrective operation succeeded and the
	// re-check confirmed the rule holds again.
	StatusResolved Status = "resolved"

	// StatusUnresolved means correction failed or the corrected state
	// still violates the rule. Never silently swallowed.
	StatusUnresolved Status = "unresolved"

	// StatusSkipped means the rule could not be evaluated on this
	// variant (unsupported capability).
	StatusSkipped Status = "skipped"
)

// Violation is one rule breach on one path.
type Violation struct {
	Rule     string `json:"rule"`
	Path     string `json:"path,omitempty"`
	Observed any    `json:"observed,omitempty"`
	Expected any    `json:"expected,omitempty"`
	Status   Status `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// EnforcementReport is the structured result of one enforcement pass.
type EnforcementReport struct {
	Violations []Violation `json:"violations"`
}

// Count returns how many violations carry the given status.
func (r *EnforcementReport) Count(status Status) int {
	n := 0
	for _, v := range r.Violations {
		if v.Status == status {
			n++
		}
	}
	return n
}
