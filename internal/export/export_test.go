package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/larkspur/copdesk/internal/cop"
	"github.com/larkspur/copdesk/internal/db"
)

func sampleVersion() *db.Version {
	ts := time.Date(2026, 2, 15, 18, 0, 0, 0, time.UTC)
	return &db.Version{
		ID: "ver-1", VersionNumber: 3, PlanID: "plan-1",
		PublishedBy: "user-1", PublishedAt: ts,
		Metrics: db.VersionMetrics{TotalItems: 2, VerifiedCount: 1, InReviewCount: 1, ProvenanceCoverage: 1.0, OverridesExercised: 1},
		Items: []db.VersionItem{
			{
				CandidateID: "cand-1", Section: "verified", Position: 0,
				Snapshot: cop.Candidate{
					Fields: cop.Fields{What: "Shelter Alpha closure", Where: "123 Main St", When: cop.When{Timestamp: &ts}, SoWhat: "45 residents relocated"},
					Evidence: cop.EvidencePack{External: []cop.Citation{{URL: "https://example.org"}}},
				},
			},
			{
				CandidateID: "cand-2", Section: "in_review", Position: 1,
				Snapshot: cop.Candidate{
					Fields: cop.Fields{What: "Bridge damage report", Where: "River Rd"},
					Draft:  cop.DraftWording{Headline: "UNCONFIRMED: Bridge damage reported on River Rd", HedgingApplied: true},
				},
			},
		},
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown(sampleVersion())

	assert.Contains(t, out, "# Common Operating Picture Update 3")
	assert.Contains(t, out, "## Verified")
	assert.Contains(t, out, "### Shelter Alpha closure")
	assert.Contains(t, out, "## In Review")
	assert.Contains(t, out, "UNCONFIRMED: Bridge damage reported on River Rd")
	assert.Contains(t, out, "1 override(s) exercised")
	assert.NotContains(t, out, "Information Gaps")
}

func TestRenderText(t *testing.T) {
	out := RenderText(sampleVersion())

	assert.Contains(t, out, "COP UPDATE 3")
	assert.Contains(t, out, "VERIFIED")
	assert.Contains(t, out, "* Shelter Alpha closure (123 Main St)")
	assert.Contains(t, out, "* UNCONFIRMED: Bridge damage reported on River Rd (River Rd)")
}
