package cop

import "strings"

// GateInput is everything the publish gate needs to judge one plan. Pure
// data; the storage layer assembles it, the gate never reads state itself.
type GateInput struct {
	Candidates       []*Candidate
	Overrides        []Override
	TwoPersonEnabled bool
}

// GateResult is the outcome of a validation pass.
type GateResult struct {
	CanPublish     bool            `json:"can_publish"`
	BlockingIssues []BlockingIssue `json:"blocking_issues"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// overrideFor finds a usable high-stakes override for a candidate among the
// plan's overrides. Justification must be non-empty; everything else is
// judged by the caller.
func overrideFor(candidateID string, overrides []Override) *Override {
	for i := range overrides {
		o := &overrides[i]
		if o.CandidateID == candidateID && o.Type == OverrideHighStakesUnverified &&
			strings.TrimSpace(o.Justification) != "" {
			return o
		}
	}
	return nil
}

// ValidateGate checks a publish plan against the gate rules. It never
// mutates state. All issues across all candidates are collected so the
// caller can fix everything in one pass.
//
// Rules per candidate:
//   - high_stakes and not verified needs a matching override.
//   - an exercised override demands hedged draft wording with a recheck time
//     and a stated next verification step.
//   - unresolved conflicts at moderate or above are never overridable.
//   - an empty evidence pack is always fatal.
//   - with the two-person rule on, every exercised override needs a distinct
//     second approver.
func ValidateGate(in GateInput) GateResult {
	var res GateResult

	for _, c := range in.Candidates {
		if c.Evidence.Count() == 0 {
			res.BlockingIssues = append(res.BlockingIssues, BlockingIssue{
				Type:        IssueMissingEvidence,
				CandidateID: c.ID,
				Detail:      "no evidence citations attached",
			})
		}

		for _, cf := range c.Conflicts {
			if cf.Blocks() {
				res.BlockingIssues = append(res.BlockingIssues, BlockingIssue{
					Type:        IssueUnresolvedConflict,
					CandidateID: c.ID,
					Field:       cf.Field,
					Severity:    cf.Severity,
					Detail:      "conflicts are never overridable",
				})
			}
		}

		if c.RiskTier == HighStakes && c.Readiness != Verified {
			o := overrideFor(c.ID, in.Overrides)
			if o == nil {
				res.BlockingIssues = append(res.BlockingIssues, BlockingIssue{
					Type:        IssueHighStakesUnverified,
					CandidateID: c.ID,
					Detail:      "high-stakes content requires verified status or an explicit override",
				})
			} else {
				res.BlockingIssues = append(res.BlockingIssues, hedgedWordingIssues(c)...)
				if len(strings.TrimSpace(o.Justification)) < 20 {
					res.Warnings = append(res.Warnings,
						"override justification for "+c.ID+" is very short")
				}
				if in.TwoPersonEnabled && !hasDistinctSecondApprover(o) {
					res.BlockingIssues = append(res.BlockingIssues, BlockingIssue{
						Type:        IssueSecondApproverRequired,
						CandidateID: c.ID,
						Detail:      "two-person rule requires a distinct second approver on the override",
					})
				}
			}
		} else if c.RiskTier == Elevated {
			res.Warnings = append(res.Warnings, "elevated risk content in plan, extra review recommended")
		}
	}

	res.CanPublish = len(res.BlockingIssues) == 0
	return res
}

func hasDistinctSecondApprover(o *Override) bool {
	sa := strings.TrimSpace(o.SecondApprover)
	return sa != "" && sa != o.Actor
}
