package change

// Eligibility is the state of a change with respect to deletion, before
// any caller permissions are consulted.
type Eligibility int

const (
	EligibleNew Eligibility = iota
	EligibleAbandoned
	IneligibleMerged
	DraftAllowed
	DraftNeedsAdmin
)

func (e Eligibility) String() string {
	switch e {
	case EligibleNew:
		return "eligible-new"
	case EligibleAbandoned:
		return "eligible-abandoned"
	case IneligibleMerged:
		return "ineligible-merged"
	case DraftAllowed:
		return "draft-allowed"
	case DraftNeedsAdmin:
		return "draft-needs-admin"
	}
	return "unknown"
}

// Classify maps a change status onto its deletion eligibility. Unknown
// statuses are treated like merged ones.
func Classify(status Status, allowDrafts bool) Eligibility {
	switch status {
	case StatusNew:
		return EligibleNew
	case StatusAbandoned:
		return EligibleAbandoned
	case StatusDraft:
		if allowDrafts {
			return DraftAllowed
		}
		return DraftNeedsAdmin
	default:
		return IneligibleMerged
	}
}

// Verdict is the outcome of a delete decision.
type Verdict int

const (
	Allow Verdict = iota
	DenyMethodNotAllowed
	DenyAuth
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case DenyMethodNotAllowed:
		return "method_not_allowed"
	case DenyAuth:
		return "forbidden"
	}
	return "unknown"
}

// Decision is a verdict with the message shown to a denied caller.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Err returns nil for Allow and the matching client error otherwise.
func (d Decision) Err() error {
	switch d.Verdict {
	case Allow:
		return nil
	case DenyMethodNotAllowed:
		return methodNotAllowed("%s", d.Reason)
	default:
		return authFailure("%s", d.Reason)
	}
}

// Decide resolves whether a caller may delete a change in state e.
// isAdmin only matters for DraftNeedsAdmin, canDelete for every other
// deletable state.
func Decide(e Eligibility, isAdmin, canDelete bool) Decision {
	switch e {
	case IneligibleMerged:
		return Decision{Verdict: DenyMethodNotAllowed, Reason: "delete not permitted"}
	case DraftNeedsAdmin:
		if isAdmin {
			return Decision{Verdict: Allow}
		}
		return Decision{Verdict: DenyMethodNotAllowed, Reason: "Draft workflow is disabled"}
	default:
		if canDelete {
			return Decision{Verdict: Allow}
		}
		return Decision{Verdict: DenyAuth, Reason: "delete not permitted"}
	}
}
