package db

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkspur/copdesk/internal/cop"
)

func verifiedCandidate(t *testing.T, database *DB) *cop.Candidate {
	t.Helper()
	c, err := database.PromoteCandidate("user-1", "cluster-1", nil, "")
	require.NoError(t, err)
	c, err = database.UpdateCandidateFields(c.ID, c.Revision, completePatch(), "user-1")
	require.NoError(t, err)
	c, err = database.AddVerification(c.ID, "user-2", cop.MethodAuthoritativeSource, cop.ConfidenceHigh, "")
	require.NoError(t, err)
	require.Equal(t, cop.Verified, c.Readiness)
	return c
}

// hedgeDraft satisfies the wording obligations an override imposes, leaving
// the headline empty so rendering falls back to the what field.
func hedgeDraft(t *testing.T, database *DB, candidateID string) {
	t.Helper()
	c, err := database.GetCandidate(candidateID)
	require.NoError(t, err)
	recheck := time.Now().Add(2 * time.Hour)
	_, err = database.SaveDraft(candidateID, c.Revision, cop.DraftWording{
		HedgingApplied: true, RecheckAt: &recheck,
		NextStep: "obtain written confirmation from county",
	}, "user-1")
	require.NoError(t, err)
}

func TestValidatePublish_ConflictNeverOverridable(t *testing.T) {
	database := openTestDB(t)
	c := verifiedCandidate(t, database)
	_, err := database.OverrideRiskTier(c.ID, cop.HighStakes, "user-1", "life-safety implications of closure")
	require.NoError(t, err)
	ovr, err := database.CreateGateOverride(c.ID, "user-1", "publishing hedged pending written confirmation")
	require.NoError(t, err)
	_, err = database.RegisterConflict("where", []string{"a", "b"}, []string{c.ID}, cop.SeverityModerate, "user-3")
	require.NoError(t, err)

	res, err := database.ValidatePublish([]string{c.ID}, []string{ovr.ID}, false)
	require.NoError(t, err)

	assert.False(t, res.CanPublish)
	var types []cop.IssueType
	for _, is := range res.BlockingIssues {
		types = append(types, is.Type)
	}
	assert.Contains(t, types, cop.IssueUnresolvedConflict)
}

func TestCommitPublish_WritesImmutableVersion(t *testing.T) {
	database := openTestDB(t)
	c := verifiedCandidate(t, database)

	v, err := database.CommitPublish("plan-1", []string{c.ID}, nil, "user-1", false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), v.VersionNumber)
	assert.Empty(t, v.PreviousVersionID)
	require.Len(t, v.Items, 1)
	assert.Equal(t, "verified", v.Items[0].Section)
	assert.Equal(t, 1, v.Metrics.VerifiedCount)
	assert.Equal(t, 1.0, v.Metrics.ProvenanceCoverage)

	// Publishing is terminal for the candidate.
	got, err := database.GetCandidate(c.ID)
	require.NoError(t, err)
	assert.Equal(t, cop.StatusPublished, got.Status)

	// The version row is write-once.
	_, err = database.Exec(`UPDATE versions SET published_by = 'tampered' WHERE id = ?`, v.ID)
	require.Error(t, err)
	var lie *cop.LedgerIntegrityError
	require.ErrorAs(t, mapImmutability(err, "versions"), &lie)
	_, err = database.Exec(`DELETE FROM version_items WHERE version_id = ?`, v.ID)
	require.Error(t, err)
}

func TestCommitPublish_SnapshotIndependentOfLiveCandidate(t *testing.T) {
	database := openTestDB(t)
	a := verifiedCandidate(t, database)
	b := verifiedCandidate(t, database)

	v, err := database.CommitPublish("plan-1", []string{a.ID}, nil, "user-1", false)
	require.NoError(t, err)
	require.Len(t, v.Items, 1)
	snapshotWhat := v.Items[0].Snapshot.Fields.What

	// Mutate the second live candidate and reread the version: the frozen
	// snapshot of the first must be untouched by any later activity.
	_, err = database.UpdateCandidateFields(b.ID, b.Revision, FieldsPatch{What: strPtr("edited later")}, "user-1")
	require.NoError(t, err)

	got, err := database.GetVersion(v.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshotWhat, got.Items[0].Snapshot.Fields.What)
}

func TestCommitPublish_VersionNumbersContiguous(t *testing.T) {
	database := openTestDB(t)
	a := verifiedCandidate(t, database)
	b := verifiedCandidate(t, database)

	v1, err := database.CommitPublish("plan-1", []string{a.ID}, nil, "user-1", false)
	require.NoError(t, err)
	v2, err := database.CommitPublish("plan-2", []string{b.ID}, nil, "user-1", false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), v1.VersionNumber)
	assert.Equal(t, int64(2), v2.VersionNumber)
	assert.Equal(t, v1.ID, v2.PreviousVersionID)
}

func TestCommitPublish_PlanIDConsumedOnce(t *testing.T) {
	database := openTestDB(t)
	a := verifiedCandidate(t, database)
	b := verifiedCandidate(t, database)

	_, err := database.CommitPublish("plan-1", []string{a.ID}, nil, "user-1", false)
	require.NoError(t, err)

	_, err = database.CommitPublish("plan-1", []string{b.ID}, nil, "user-1", false)
	var ve *cop.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "plan_id", ve.Field)

	// The duplicate plan must not have produced a version.
	versions, err := database.ListVersions(0)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestCommitPublish_RejectsWithFullIssueList(t *testing.T) {
	database := openTestDB(t)
	c, err := database.PromoteCandidate("user-1", "cluster-1", nil, cop.HighStakes)
	require.NoError(t, err)
	c, err = database.UpdateCandidateFields(c.ID, c.Revision, completePatch(), "user-1")
	require.NoError(t, err)

	_, err = database.CommitPublish("plan-1", []string{c.ID}, nil, "user-1", false)
	var gre *cop.GateRejectedError
	require.ErrorAs(t, err, &gre)
	require.Len(t, gre.Issues, 1)
	assert.Equal(t, cop.IssueHighStakesUnverified, gre.Issues[0].Type)
}

func TestCommitPublish_OverrideAppliesUnconfirmedLabel(t *testing.T) {
	database := openTestDB(t)
	c, err := database.PromoteCandidate("user-1", "cluster-1", nil, cop.HighStakes)
	require.NoError(t, err)
	c, err = database.UpdateCandidateFields(c.ID, c.Revision, completePatch(), "user-1")
	require.NoError(t, err)
	ovr, err := database.CreateGateOverride(c.ID, "user-1", "closure confirmed verbally by shelter manager")
	require.NoError(t, err)
	hedgeDraft(t, database, c.ID)

	v, err := database.CommitPublish("plan-1", []string{c.ID}, []string{ovr.ID}, "user-1", false)
	require.NoError(t, err)

	require.Len(t, v.Items, 1)
	assert.Equal(t, "in_review", v.Items[0].Section)
	assert.Equal(t, "UNCONFIRMED: Shelter Alpha closure", v.Items[0].Snapshot.Draft.Headline)
	require.Len(t, v.Overrides, 1)
	assert.Equal(t, ovr.ID, v.Overrides[0].ID)
	assert.Equal(t, 1, v.Metrics.OverridesExercised)

	// Commit is the exclusive producer of the publish/override audit actions.
	trail, err := database.AuditTrail("cop_candidate", c.ID, 0)
	require.NoError(t, err)
	var actions []string
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "cop_update.override")

	vTrail, err := database.AuditTrail("version", v.ID, 0)
	require.NoError(t, err)
	require.Len(t, vTrail, 1)
	assert.Equal(t, "cop_update.publish", vTrail[0].Action)
}

func TestCommitPublish_OverrideWithoutHedgedDraftRejected(t *testing.T) {
	database := openTestDB(t)
	c, err := database.PromoteCandidate("user-1", "cluster-1", nil, cop.HighStakes)
	require.NoError(t, err)
	c, err = database.UpdateCandidateFields(c.ID, c.Revision, completePatch(), "user-1")
	require.NoError(t, err)
	ovr, err := database.CreateGateOverride(c.ID, "user-1", "closure confirmed verbally by shelter manager")
	require.NoError(t, err)

	// Without hedged wording the override has not taken effect yet.
	c, err = database.GetCandidate(c.ID)
	require.NoError(t, err)
	require.Equal(t, cop.Blocked, c.Readiness)

	_, err = database.CommitPublish("plan-1", []string{c.ID}, []string{ovr.ID}, "user-1", false)
	var gre *cop.GateRejectedError
	require.ErrorAs(t, err, &gre)
	var types []cop.IssueType
	for _, is := range gre.Issues {
		types = append(types, is.Type)
	}
	assert.Contains(t, types, cop.IssueHedgedWordingRequired)

	// The rejected plan produced nothing and stays reusable.
	versions, err := database.ListVersions(0)
	require.NoError(t, err)
	assert.Empty(t, versions)

	hedgeDraft(t, database, c.ID)
	v, err := database.CommitPublish("plan-1", []string{c.ID}, []string{ovr.ID}, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, "UNCONFIRMED: Shelter Alpha closure", v.Items[0].Snapshot.Draft.Headline)
}

func TestCommitPublish_ConcurrentCommitsStayGapless(t *testing.T) {
	database := openTestDB(t)
	a := verifiedCandidate(t, database)
	b := verifiedCandidate(t, database)

	ids := []string{a.ID, b.ID}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = database.CommitPublish(fmt.Sprintf("plan-%d", i), []string{ids[i]}, nil, "user-1", false)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// The loser of the version-number race retried; numbers stay contiguous.
	versions, err := database.ListVersions(0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	seen := make(map[int64]bool)
	for _, v := range versions {
		seen[v.VersionNumber] = true
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])
}

func TestCommitPublish_TwoPersonRule(t *testing.T) {
	database := openTestDB(t)
	c, err := database.PromoteCandidate("user-1", "cluster-1", nil, cop.HighStakes)
	require.NoError(t, err)
	c, err = database.UpdateCandidateFields(c.ID, c.Revision, completePatch(), "user-1")
	require.NoError(t, err)
	ovr, err := database.CreateGateOverride(c.ID, "user-1", "closure confirmed verbally, written notice pending")
	require.NoError(t, err)
	hedgeDraft(t, database, c.ID)

	_, err = database.CommitPublish("plan-1", []string{c.ID}, []string{ovr.ID}, "user-1", true)
	var gre *cop.GateRejectedError
	require.ErrorAs(t, err, &gre)
	require.Len(t, gre.Issues, 1)
	assert.Equal(t, cop.IssueSecondApproverRequired, gre.Issues[0].Type)

	_, err = database.CosignOverride(ovr.ID, "user-2")
	require.NoError(t, err)

	v, err := database.CommitPublish("plan-1", []string{c.ID}, []string{ovr.ID}, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.VersionNumber)
}
