package intent

// Outcome says what the resolver did with one implied operation.
type Outcome string

const (
	// OutcomeApplied means the operation was issued and confirmed.
	OutcomeApplied Outcome = "applied"

	// OutcomeIgnored means the console already held the desired value.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeUnsupported means the variant cannot address the target.
	OutcomeUnsupported Outcome = "unsupported"

	// OutcomeFailed means the send was attempted and failed.
	OutcomeFailed Outcome = "failed"
)

// OperationResult records the fate of one operation implied by an intent.
type OperationResult struct {
	// Source names the declarative element the operation came from,
	// e.g. "safety/phantom", "output/max-level", "group/StageInputs".
	Source string `json:"source"`

	Path    string  `json:"path,omitempty"`
	Outcome Outcome `json:"outcome"`
	Value   any     `json:"value,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// ApplicationReport is the result of applying one intent. Every operation
// implied by the intent appears in exactly one of the outcome classes;
// nothing is silently dropped. If the application was cancelled, the
// report contains exactly the operations handled before cancellation.
type ApplicationReport struct {
	Intent    string            `json:"intent"`
	Variant   string            `json:"variant"`
	Results   []OperationResult `json:"results"`
	Cancelled bool              `json:"cancelled,omitempty"`
}

// Count returns how many results carry the given outcome.
func (r *ApplicationReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

func (r *ApplicationReport) add(res OperationResult) {
	r.Results = append(r.Results, res)
}
