package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/larkspur/copdesk/internal/cop"
	"github.com/larkspur/copdesk/pkg/audit"
)

// ValidatePublish runs the gate over a proposed plan without touching state.
func (db *DB) ValidatePublish(candidateIDs, overrideIDs []string, twoPerson bool) (cop.GateResult, error) {
	in, err := gateInput(db, candidateIDs, overrideIDs, twoPerson)
	if err != nil {
		return cop.GateResult{}, err
	}
	return cop.ValidateGate(in), nil
}

// commitRetries bounds the version-number race loop. Each retry re-reads
// previous_max under a fresh transaction.
const commitRetries = 5

// CommitPublish validates the plan and, if it passes, writes a new immutable
// version. It is the sole writer of versions and the only producer of
// cop_update.publish / cop_update.override audit entries. A plan ID is
// consumed exactly once; retrying a consumed plan is rejected, not reapplied.
// Two concurrent commits race on the version-number unique index; the loser
// retries against the new previous_max.
func (db *DB) CommitPublish(planID string, candidateIDs, overrideIDs []string, actor string, twoPerson bool) (_ *Version, err error) {
	defer func(start time.Time) { db.observe("publish.commit", start, err) }(time.Now())

	if strings.TrimSpace(planID) == "" {
		return nil, cop.Validationf("plan_id", "required")
	}
	if len(candidateIDs) == 0 {
		return nil, cop.Validationf("candidate_ids", "publish plan is empty")
	}

	var lastErr error
	for attempt := 0; attempt < commitRetries; attempt++ {
		v, err := db.tryCommit(planID, candidateIDs, overrideIDs, actor, twoPerson)
		if err == nil {
			return v, nil
		}
		if isUniqueViolation(err) && strings.Contains(err.Error(), "version_number") {
			lastErr = err
			continue
		}
		if isUniqueViolation(err) && strings.Contains(err.Error(), "plan_id") {
			return nil, cop.Validationf("plan_id", "plan %s already committed", planID)
		}
		return nil, err
	}
	return nil, fmt.Errorf("committing version after %d attempts: %w", commitRetries, lastErr)
}

func (db *DB) tryCommit(planID string, candidateIDs, overrideIDs []string, actor string, twoPerson bool) (*Version, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	in, err := gateInput(tx, candidateIDs, overrideIDs, twoPerson)
	if err != nil {
		return nil, err
	}
	res := cop.ValidateGate(in)
	if !res.CanPublish {
		return nil, &cop.GateRejectedError{Issues: res.BlockingIssues}
	}

	var prevNum int64
	var prevID sql.NullString
	err = tx.QueryRow(`SELECT version_number, id FROM versions ORDER BY version_number DESC LIMIT 1`).
		Scan(&prevNum, &prevID)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	versionID := NewID()
	number := prevNum + 1

	exercised := exercisedOverrides(in)
	overridesJSON, _ := json.Marshal(exercised)

	items, metrics := buildItems(in.Candidates, exercised)
	metricsJSON, _ := json.Marshal(metrics)

	if _, err := tx.Exec(`
		INSERT INTO versions (id, version_number, plan_id, previous_version_id, published_by, overrides_json, metrics_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		versionID, number, planID, prevID, actor, string(overridesJSON), string(metricsJSON)); err != nil {
		return nil, err
	}

	for _, item := range items {
		snapshot, err := json.Marshal(item.Snapshot)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`
			INSERT INTO version_items (version_id, candidate_id, section, position, snapshot_json)
			VALUES (?, ?, ?, ?, ?)`,
			versionID, item.CandidateID, item.Section, item.Position, string(snapshot)); err != nil {
			return nil, err
		}
	}

	for _, c := range in.Candidates {
		if _, err := tx.Exec(`
			UPDATE candidates SET status = 'published', revision = revision + 1, updated_at = datetime('now')
			WHERE id = ?`, c.ID); err != nil {
			return nil, err
		}
	}

	after, _ := json.Marshal(map[string]any{
		"version_number": number, "plan_id": planID, "candidate_ids": candidateIDs,
	})
	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionPublish,
		EntityType: audit.EntityVersion, EntityID: versionID,
		After: string(after),
	}); err != nil {
		return nil, err
	}
	for _, o := range exercised {
		ovrAfter, _ := json.Marshal(map[string]any{
			"candidate_id": o.CandidateID, "version_id": versionID, "unconfirmed_label": true,
		})
		if err := audit.Insert(tx, &audit.Entry{
			Actor: actor, Action: audit.ActionPublishOverride,
			EntityType: audit.EntityCandidate, EntityID: o.CandidateID,
			After: string(ovrAfter), Justification: o.Justification,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetVersion(versionID)
}

// gateInput loads the full plan state: candidates with verifications and
// conflicts attached, plus the supplied override records.
func gateInput(q queryer, candidateIDs, overrideIDs []string, twoPerson bool) (cop.GateInput, error) {
	in := cop.GateInput{TwoPersonEnabled: twoPerson}
	for _, id := range candidateIDs {
		c, err := loadCandidate(q, id)
		if err != nil {
			return in, err
		}
		if c.Status == cop.StatusMerged {
			return in, &cop.BlockedStateError{CandidateID: id, Reason: "candidate was merged into " + c.MergedInto}
		}
		in.Candidates = append(in.Candidates, c)
	}
	for _, id := range overrideIDs {
		o, err := getOverride(q, id)
		if err != nil {
			return in, err
		}
		in.Overrides = append(in.Overrides, *o)
	}
	return in, nil
}

// exercisedOverrides returns the overrides the gate actually relies on: one
// per high-stakes non-verified candidate in the plan.
func exercisedOverrides(in cop.GateInput) []cop.Override {
	var out []cop.Override
	for _, c := range in.Candidates {
		if c.RiskTier != cop.HighStakes || c.Readiness == cop.Verified {
			continue
		}
		for _, o := range in.Overrides {
			if o.CandidateID == c.ID && o.Type == cop.OverrideHighStakesUnverified {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

// buildItems freezes each candidate into its section. Overridden high-stakes
// items get the UNCONFIRMED prefix baked into the snapshot wording.
func buildItems(candidates []*cop.Candidate, exercised []cop.Override) ([]VersionItem, VersionMetrics) {
	overriddenIDs := make(map[string]bool, len(exercised))
	for _, o := range exercised {
		overriddenIDs[o.CandidateID] = true
	}

	var items []VersionItem
	var metrics VersionMetrics
	withEvidence := 0

	for i, c := range candidates {
		snapshot := deepCopyCandidate(c)

		section := "in_review"
		switch c.Readiness {
		case cop.Verified:
			section = "verified"
			metrics.VerifiedCount++
		case cop.Blocked:
			section = "gaps"
			metrics.GapsCount++
		default:
			metrics.InReviewCount++
		}

		if overriddenIDs[c.ID] {
			if snapshot.Draft.Headline != "" {
				snapshot.Draft.Headline = cop.ApplyUnconfirmedLabel(snapshot.Draft.Headline)
			} else {
				snapshot.Draft.Headline = cop.ApplyUnconfirmedLabel(snapshot.Fields.What)
			}
		}

		if c.Evidence.Count() > 0 {
			withEvidence++
		}

		items = append(items, VersionItem{
			CandidateID: c.ID,
			Section:     section,
			Position:    i,
			Snapshot:    snapshot,
		})
	}

	metrics.TotalItems = len(items)
	metrics.OverridesExercised = len(exercised)
	if len(items) > 0 {
		metrics.ProvenanceCoverage = float64(withEvidence) / float64(len(items))
	}
	return items, metrics
}

// deepCopyCandidate produces an independent copy via JSON round-trip so the
// frozen snapshot shares no slices or pointers with the live record.
func deepCopyCandidate(c *cop.Candidate) cop.Candidate {
	raw, _ := json.Marshal(c)
	var out cop.Candidate
	json.Unmarshal(raw, &out)
	return out
}
