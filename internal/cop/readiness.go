package cop

import (
	"fmt"
	"sort"
	"strings"
)

// RequiredFields are the fields a candidate must carry before it can leave
// blocked. "who" is collected but not required.
var RequiredFields = []string{"what", "where", "when", "so_what"}

// Evaluation is the derived readiness picture for one candidate.
type Evaluation struct {
	State             ReadinessState    `json:"state"`
	MissingFields     []string          `json:"missing_fields"`
	BlockingIssues    []BlockingIssue   `json:"blocking_issues"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
}

// MissingFields returns the required fields the candidate has no content for,
// in canonical order.
func MissingFields(f Fields) []string {
	var missing []string
	if strings.TrimSpace(f.What) == "" {
		missing = append(missing, "what")
	}
	if strings.TrimSpace(f.Where) == "" {
		missing = append(missing, "where")
	}
	if f.When.Empty() {
		missing = append(missing, "when")
	}
	if strings.TrimSpace(f.SoWhat) == "" {
		missing = append(missing, "so_what")
	}
	return missing
}

// activeGateOverride reports whether the candidate carries a usable
// high-stakes publish override. Second-approver completeness is a gate
// concern, not a readiness one; the hedged-wording obligations the override
// imposes are judged separately.
func activeGateOverride(c *Candidate) bool {
	o := c.GateOverride
	return o != nil && o.Type == OverrideHighStakesUnverified && strings.TrimSpace(o.Justification) != ""
}

// hedgedWordingIssues lists the draft-wording obligations an override imposes.
// Overridden high-stakes candidates must publish hedged, with a recheck time
// and a stated next verification step.
func hedgedWordingIssues(c *Candidate) []BlockingIssue {
	var issues []BlockingIssue
	if !c.Draft.HedgingApplied {
		issues = append(issues, BlockingIssue{
			Type:        IssueHedgedWordingRequired,
			CandidateID: c.ID,
			Field:       "draft_wording.hedging_applied",
			Detail:      "override requires hedged wording",
		})
	}
	if c.Draft.RecheckAt == nil {
		issues = append(issues, BlockingIssue{
			Type:        IssueHedgedWordingRequired,
			CandidateID: c.ID,
			Field:       "draft_wording.recheck_at",
			Detail:      "override requires a recheck time",
		})
	}
	if strings.TrimSpace(c.Draft.NextStep) == "" {
		issues = append(issues, BlockingIssue{
			Type:        IssueHedgedWordingRequired,
			CandidateID: c.ID,
			Field:       "draft_wording.next_step",
			Detail:      "override requires a next verification step",
		})
	}
	return issues
}

// EvaluateReadiness derives the readiness state of a candidate. Rules apply
// in strict order; the first blocking rule wins and later rules still
// contribute their issues to the report. The function is pure: callers
// persist the result atomically with whatever mutation triggered it.
func EvaluateReadiness(c *Candidate) Evaluation {
	ev := Evaluation{MissingFields: MissingFields(c.Fields)}

	// Rule 1: required fields.
	for _, f := range ev.MissingFields {
		ev.BlockingIssues = append(ev.BlockingIssues, BlockingIssue{
			Type:        IssueMissingField,
			CandidateID: c.ID,
			Field:       f,
		})
	}

	// Rule 2: evidence. A claim with no citation is never publishable.
	if c.Evidence.Count() == 0 {
		ev.BlockingIssues = append(ev.BlockingIssues, BlockingIssue{
			Type:        IssueMissingEvidence,
			CandidateID: c.ID,
			Detail:      "no evidence citations attached",
		})
	}

	// Rule 3: unresolved conflicts at moderate severity or above.
	for _, cf := range sortedConflicts(c.Conflicts) {
		if cf.Blocks() {
			ev.BlockingIssues = append(ev.BlockingIssues, BlockingIssue{
				Type:        IssueUnresolvedConflict,
				CandidateID: c.ID,
				Field:       cf.Field,
				Severity:    cf.Severity,
				Detail:      fmt.Sprintf("conflict %s unresolved", cf.ID),
			})
		}
	}

	// Rule 4: high-stakes claims demand a verification record. An override
	// relaxes blocked to in_review only once the draft carries the
	// hedged-wording fields it imposes.
	overridden := false
	if c.RiskTier == HighStakes && len(c.Verifications) == 0 {
		if activeGateOverride(c) {
			overridden = true
			ev.BlockingIssues = append(ev.BlockingIssues, hedgedWordingIssues(c)...)
		} else {
			ev.BlockingIssues = append(ev.BlockingIssues, BlockingIssue{
				Type:        IssueVerificationRequired,
				CandidateID: c.ID,
				Detail:      "high-stakes claim has no verification record",
			})
		}
	}

	ev.State = deriveState(c, ev.BlockingIssues, overridden)
	ev.RecommendedAction = recommend(c, ev)
	return ev
}

func deriveState(c *Candidate, issues []BlockingIssue, overridden bool) ReadinessState {
	for _, is := range issues {
		switch is.Type {
		case IssueMissingField, IssueMissingEvidence, IssueUnresolvedConflict,
			IssueVerificationRequired, IssueHedgedWordingRequired:
			return Blocked
		}
	}
	if overridden {
		// A satisfied override holds the candidate at in_review; it never
		// manufactures verified.
		return InReview
	}
	if len(c.Verifications) > 0 {
		return Verified
	}
	return InReview
}

// recommend picks the single most useful next step, highest-leverage first.
func recommend(c *Candidate, ev Evaluation) RecommendedAction {
	for _, is := range ev.BlockingIssues {
		if is.Type == IssueUnresolvedConflict {
			if conflictSuggestsMerge(c.Conflicts) {
				return ActionMergeCandidates
			}
			return ActionResolveConflict
		}
	}
	for _, is := range ev.BlockingIssues {
		if is.Type == IssueMissingField || is.Type == IssueMissingEvidence {
			return ActionAddEvidence
		}
	}
	if ev.State == Verified {
		return ActionReadyToPublish
	}
	return ActionAssignVerification
}

// conflictSuggestsMerge reports whether any blocking conflict spans multiple
// candidates, which usually means duplicates of the same claim.
func conflictSuggestsMerge(conflicts []Conflict) bool {
	for _, cf := range conflicts {
		if cf.Blocks() && len(cf.CandidateIDs) > 1 {
			return true
		}
	}
	return false
}

// sortedConflicts orders conflicts by severity (highest first) then creation
// time, so the report is stable regardless of storage order.
func sortedConflicts(in []Conflict) []Conflict {
	out := make([]Conflict, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := SeverityRank(out[i].Severity), SeverityRank(out[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
