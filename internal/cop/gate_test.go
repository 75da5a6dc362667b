package cop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishable() *Candidate {
	ts := time.Date(2026, 2, 15, 18, 0, 0, 0, time.UTC)
	return &Candidate{
		ID: "cand-1",
		Fields: Fields{
			What: "Shelter Alpha closure", Where: "123 Main St",
			When: When{Timestamp: &ts}, SoWhat: "45 residents relocated",
		},
		Evidence:      EvidencePack{External: []Citation{{Kind: "external", URL: "https://example.org/notice"}}},
		Verifications: []Verification{{ID: "ver-1", Actor: "user-1", Method: MethodAuthoritativeSource}},
		RiskTier:      Routine,
		Readiness:     Verified,
		Status:        StatusActive,
	}
}

func hedgedDraft() DraftWording {
	recheck := time.Date(2026, 2, 15, 20, 0, 0, 0, time.UTC)
	return DraftWording{
		HedgingApplied: true,
		RecheckAt:      &recheck,
		NextStep:       "obtain written confirmation from county",
	}
}

func TestValidateGate_CleanPlanPasses(t *testing.T) {
	res := ValidateGate(GateInput{Candidates: []*Candidate{publishable()}})

	assert.True(t, res.CanPublish)
	assert.Empty(t, res.BlockingIssues)
}

func TestValidateGate_HighStakesUnverifiedNeedsOverride(t *testing.T) {
	c := publishable()
	c.RiskTier = HighStakes
	c.Readiness = InReview
	c.Verifications = nil
	c.Draft = hedgedDraft()

	res := ValidateGate(GateInput{Candidates: []*Candidate{c}})
	assert.False(t, res.CanPublish)
	require.Len(t, res.BlockingIssues, 1)
	assert.Equal(t, IssueHighStakesUnverified, res.BlockingIssues[0].Type)
	assert.Equal(t, c.ID, res.BlockingIssues[0].CandidateID)

	res = ValidateGate(GateInput{
		Candidates: []*Candidate{c},
		Overrides: []Override{{
			CandidateID: c.ID, Type: OverrideHighStakesUnverified,
			Actor: "user-1", Justification: "shelter manager confirmed by phone, notice pending",
		}},
	})
	assert.True(t, res.CanPublish)
}

func TestValidateGate_EmptyJustificationIsNoOverride(t *testing.T) {
	c := publishable()
	c.RiskTier = HighStakes
	c.Readiness = InReview

	res := ValidateGate(GateInput{
		Candidates: []*Candidate{c},
		Overrides:  []Override{{CandidateID: c.ID, Type: OverrideHighStakesUnverified, Actor: "user-1", Justification: "  "}},
	})

	assert.False(t, res.CanPublish)
	require.Len(t, res.BlockingIssues, 1)
	assert.Equal(t, IssueHighStakesUnverified, res.BlockingIssues[0].Type)
}

func TestValidateGate_ConflictsNeverOverridable(t *testing.T) {
	c := publishable()
	c.RiskTier = HighStakes
	c.Readiness = Blocked
	c.Conflicts = []Conflict{{ID: "conf-1", Field: "where", Severity: SeverityModerate}}

	res := ValidateGate(GateInput{
		Candidates: []*Candidate{c},
		Overrides: []Override{{
			CandidateID: c.ID, Type: OverrideHighStakesUnverified,
			Actor: "user-1", Justification: "urgent closure, publishing hedged",
		}},
	})

	assert.False(t, res.CanPublish)
	var types []IssueType
	for _, is := range res.BlockingIssues {
		types = append(types, is.Type)
	}
	assert.Contains(t, types, IssueUnresolvedConflict)
}

func TestValidateGate_EmptyEvidenceAlwaysFatal(t *testing.T) {
	c := publishable()
	c.Evidence = EvidencePack{}

	res := ValidateGate(GateInput{Candidates: []*Candidate{c}})

	assert.False(t, res.CanPublish)
	require.Len(t, res.BlockingIssues, 1)
	assert.Equal(t, IssueMissingEvidence, res.BlockingIssues[0].Type)
}

func TestValidateGate_OverrideDemandsHedgedDraft(t *testing.T) {
	c := publishable()
	c.RiskTier = HighStakes
	c.Readiness = Blocked
	c.Verifications = nil
	ovr := Override{
		CandidateID: c.ID, Type: OverrideHighStakesUnverified,
		Actor: "user-1", Justification: "shelter manager confirmed by phone, notice pending",
	}

	res := ValidateGate(GateInput{Candidates: []*Candidate{c}, Overrides: []Override{ovr}})
	assert.False(t, res.CanPublish)
	require.Len(t, res.BlockingIssues, 3)
	for _, is := range res.BlockingIssues {
		assert.Equal(t, IssueHedgedWordingRequired, is.Type)
	}

	c.Draft = hedgedDraft()
	res = ValidateGate(GateInput{Candidates: []*Candidate{c}, Overrides: []Override{ovr}})
	assert.True(t, res.CanPublish)
}

func TestValidateGate_TwoPersonRule(t *testing.T) {
	c := publishable()
	c.RiskTier = HighStakes
	c.Readiness = InReview
	c.Draft = hedgedDraft()
	ovr := Override{
		CandidateID: c.ID, Type: OverrideHighStakesUnverified,
		Actor: "user-1", Justification: "confirmed verbally with incident command",
	}

	res := ValidateGate(GateInput{Candidates: []*Candidate{c}, Overrides: []Override{ovr}, TwoPersonEnabled: true})
	assert.False(t, res.CanPublish)
	require.Len(t, res.BlockingIssues, 1)
	assert.Equal(t, IssueSecondApproverRequired, res.BlockingIssues[0].Type)

	// Self-approval does not satisfy the rule.
	ovr.SecondApprover = "user-1"
	res = ValidateGate(GateInput{Candidates: []*Candidate{c}, Overrides: []Override{ovr}, TwoPersonEnabled: true})
	assert.False(t, res.CanPublish)

	ovr.SecondApprover = "user-2"
	res = ValidateGate(GateInput{Candidates: []*Candidate{c}, Overrides: []Override{ovr}, TwoPersonEnabled: true})
	assert.True(t, res.CanPublish)
}

func TestValidateGate_CollectsIssuesAcrossCandidates(t *testing.T) {
	a := publishable()
	b := publishable()
	b.ID = "cand-2"
	b.Evidence = EvidencePack{}
	c := publishable()
	c.ID = "cand-3"
	c.RiskTier = HighStakes
	c.Readiness = InReview

	res := ValidateGate(GateInput{Candidates: []*Candidate{a, b, c}})

	assert.False(t, res.CanPublish)
	assert.Len(t, res.BlockingIssues, 2)
}

func TestValidateGate_ShortJustificationWarns(t *testing.T) {
	c := publishable()
	c.RiskTier = HighStakes
	c.Readiness = InReview
	c.Draft = hedgedDraft()

	res := ValidateGate(GateInput{
		Candidates: []*Candidate{c},
		Overrides:  []Override{{CandidateID: c.ID, Type: OverrideHighStakesUnverified, Actor: "user-1", Justification: "urgent"}},
	})

	assert.True(t, res.CanPublish)
	assert.NotEmpty(t, res.Warnings)
}
