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

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const candidateCols = `id, cluster_id, primary_signal_ids, what, where_text, when_json, who, so_what,
	evidence_json, risk_tier, risk_override_id, gate_override_id, readiness,
	missing_fields_json, blocking_issues_json, draft_json, status, merged_into,
	revision, created_by, created_at, updated_at`

// PromoteCandidate creates a candidate from a cluster. It is born blocked;
// the first evaluation runs in the same transaction.
func (db *DB) PromoteCandidate(actor, clusterID string, signalIDs []string, initialTier cop.RiskTier) (_ *cop.Candidate, err error) {
	defer func(start time.Time) { db.observe("candidate.promote", start, err) }(time.Now())

	if strings.TrimSpace(clusterID) == "" {
		return nil, cop.Validationf("cluster_id", "required")
	}
	switch initialTier {
	case "", cop.Routine, cop.Elevated, cop.HighStakes:
	default:
		return nil, cop.Validationf("initial_risk_tier", "unknown risk tier %q", initialTier)
	}
	if initialTier == "" {
		initialTier = cop.Routine
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := NewID()
	signals, _ := json.Marshal(signalIDs)
	if _, err := tx.Exec(`
		INSERT INTO candidates (id, cluster_id, primary_signal_ids, risk_tier, created_by)
		VALUES (?, ?, ?, ?, ?)`,
		id, clusterID, string(signals), string(initialTier), actor); err != nil {
		return nil, fmt.Errorf("inserting candidate: %w", err)
	}

	c, err := loadCandidate(tx, id)
	if err != nil {
		return nil, err
	}
	if err := recompute(tx, c); err != nil {
		return nil, err
	}

	after, _ := json.Marshal(map[string]any{"cluster_id": clusterID, "risk_tier": initialTier})
	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionCandidatePromote,
		EntityType: audit.EntityCandidate, EntityID: id,
		After: string(after),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetCandidate(id)
}

// GetCandidate returns a candidate with its verifications, conflicts, and
// override records attached.
func (db *DB) GetCandidate(id string) (*cop.Candidate, error) {
	return loadCandidate(db, id)
}

// ListCandidates returns candidates, optionally filtered by lifecycle status,
// most recently updated first. Verifications and conflicts are attached.
func (db *DB) ListCandidates(status string, limit int) ([]*cop.Candidate, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id FROM candidates ORDER BY updated_at DESC LIMIT ?`
	args := []any{limit}
	if status != "" {
		q = `SELECT id FROM candidates WHERE status = ? ORDER BY updated_at DESC LIMIT ?`
		args = []any{status, limit}
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	var out []*cop.Candidate
	for _, id := range ids {
		c, err := loadCandidate(db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// FieldsPatch is a partial scalar-field edit. Nil members are untouched.
type FieldsPatch struct {
	What     *string           `json:"what,omitempty"`
	Where    *string           `json:"where,omitempty"`
	When     *cop.When         `json:"when,omitempty"`
	Who      *string           `json:"who,omitempty"`
	SoWhat   *string           `json:"so_what,omitempty"`
	Evidence *cop.EvidencePack `json:"evidence,omitempty"`
}

// UpdateCandidateFields applies a scalar-field edit under optimistic
// concurrency: the caller's revision must match the stored one or the edit
// is rejected with ConcurrencyConflictError. Risk tier is reclassified from
// the new content unless an override pins it, and readiness is recomputed,
// all in one transaction.
func (db *DB) UpdateCandidateFields(id string, revision int64, patch FieldsPatch, actor string) (_ *cop.Candidate, err error) {
	defer func(start time.Time) { db.observe("candidate.update_fields", start, err) }(time.Now())

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCandidate(tx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != cop.StatusActive {
		return nil, &cop.BlockedStateError{CandidateID: id, Reason: "candidate is " + string(c.Status)}
	}
	if c.Revision != revision {
		return nil, &cop.ConcurrencyConflictError{CandidateID: id, ExpectedRevision: revision}
	}

	before, _ := json.Marshal(c.Fields)
	if patch.What != nil {
		c.Fields.What = *patch.What
	}
	if patch.Where != nil {
		c.Fields.Where = *patch.Where
	}
	if patch.When != nil {
		c.Fields.When = *patch.When
	}
	if patch.Who != nil {
		c.Fields.Who = *patch.Who
	}
	if patch.SoWhat != nil {
		c.Fields.SoWhat = *patch.SoWhat
	}
	if patch.Evidence != nil {
		c.Evidence = *patch.Evidence
	}
	after, _ := json.Marshal(c.Fields)

	// Content signals can escalate the tier but never lower it; downgrades
	// go through an explicit, justified override.
	if c.RiskOverride == nil {
		if computed := cop.ClassifyRisk(c).ComputedTier; cop.TierRank(computed) > cop.TierRank(c.RiskTier) {
			c.RiskTier = computed
		}
	}

	whenJSON, _ := json.Marshal(c.Fields.When)
	evidenceJSON, _ := json.Marshal(c.Evidence)
	res, err := tx.Exec(`
		UPDATE candidates SET what = ?, where_text = ?, when_json = ?, who = ?, so_what = ?,
			evidence_json = ?, risk_tier = ?
		WHERE id = ? AND revision = ?`,
		c.Fields.What, c.Fields.Where, string(whenJSON), c.Fields.Who, c.Fields.SoWhat,
		string(evidenceJSON), string(c.RiskTier), id, revision)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &cop.ConcurrencyConflictError{CandidateID: id, ExpectedRevision: revision}
	}

	if err := recompute(tx, c); err != nil {
		return nil, err
	}
	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionCandidateUpdate,
		EntityType: audit.EntityCandidate, EntityID: id,
		Before: string(before), After: string(after),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetCandidate(id)
}

// AddVerification appends a verification record. Verifications are
// append-only, so no revision check: concurrent appends must both survive.
func (db *DB) AddVerification(candidateID, actor string, method cop.VerificationMethod, confidence cop.Confidence, notes string) (_ *cop.Candidate, err error) {
	defer func(start time.Time) { db.observe("candidate.verify", start, err) }(time.Now())

	if !cop.ValidMethod(method) {
		return nil, cop.Validationf("method", "unknown verification method %q", method)
	}
	switch confidence {
	case "", cop.ConfidenceLow, cop.ConfidenceMedium, cop.ConfidenceHigh:
	default:
		return nil, cop.Validationf("confidence", "unknown confidence %q", confidence)
	}
	if confidence == "" {
		confidence = cop.ConfidenceMedium
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCandidate(tx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != cop.StatusActive {
		return nil, &cop.BlockedStateError{CandidateID: candidateID, Reason: "candidate is " + string(c.Status)}
	}

	verID := NewID()
	if _, err := tx.Exec(`
		INSERT INTO verifications (id, candidate_id, actor, method, confidence, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		verID, candidateID, actor, string(method), string(confidence), notes); err != nil {
		return nil, fmt.Errorf("inserting verification: %w", err)
	}

	c.Verifications = append(c.Verifications, cop.Verification{
		ID: verID, Actor: actor, Method: method, Confidence: confidence,
		Notes: notes, RecordedAt: time.Now(),
	})
	if err := recompute(tx, c); err != nil {
		return nil, err
	}

	after, _ := json.Marshal(map[string]string{"method": string(method), "confidence": string(confidence)})
	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionCandidateVerify,
		EntityType: audit.EntityCandidate, EntityID: candidateID,
		After: string(after), Justification: notes,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetCandidate(candidateID)
}

// OverrideRiskTier records a justified facilitator risk-tier change and
// recomputes readiness under the new tier.
func (db *DB) OverrideRiskTier(candidateID string, newTier cop.RiskTier, actor, justification string) (*cop.Candidate, error) {
	if err := cop.ValidateRiskOverride(newTier, justification); err != nil {
		return nil, err
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCandidate(tx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != cop.StatusActive {
		return nil, &cop.BlockedStateError{CandidateID: candidateID, Reason: "candidate is " + string(c.Status)}
	}

	prevTier := c.RiskTier
	ovrID := NewID()
	if _, err := tx.Exec(`
		INSERT INTO overrides (id, candidate_id, override_type, previous_tier, new_tier, actor, justification)
		VALUES (?, ?, 'risk_tier', ?, ?, ?, ?)`,
		ovrID, candidateID, string(prevTier), string(newTier), actor, strings.TrimSpace(justification)); err != nil {
		return nil, fmt.Errorf("inserting override: %w", err)
	}
	if _, err := tx.Exec(`UPDATE candidates SET risk_tier = ?, risk_override_id = ? WHERE id = ?`,
		string(newTier), ovrID, candidateID); err != nil {
		return nil, err
	}

	c.RiskTier = newTier
	c.RiskOverride = &cop.Override{
		ID: ovrID, CandidateID: candidateID, Type: cop.OverrideRiskTier,
		PreviousTier: prevTier, NewTier: newTier, Actor: actor,
		Justification: justification,
	}
	if err := recompute(tx, c); err != nil {
		return nil, err
	}

	before, _ := json.Marshal(map[string]string{"risk_tier": string(prevTier)})
	after, _ := json.Marshal(map[string]string{"risk_tier": string(newTier)})
	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionCandidateRiskTier,
		EntityType: audit.EntityCandidate, EntityID: candidateID,
		Before: string(before), After: string(after), Justification: justification,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetCandidate(candidateID)
}

// CreateGateOverride records a high-stakes publish override for a candidate.
// The override relaxes readiness from blocked to in_review once the draft
// carries hedged wording; the publish gate judges it again at validate/commit
// time.
func (db *DB) CreateGateOverride(candidateID, actor, justification string) (*cop.Override, error) {
	if strings.TrimSpace(justification) == "" {
		return nil, cop.Validationf("justification", "override requires a written justification")
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCandidate(tx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != cop.StatusActive {
		return nil, &cop.BlockedStateError{CandidateID: candidateID, Reason: "candidate is " + string(c.Status)}
	}
	if c.RiskTier != cop.HighStakes {
		return nil, cop.Validationf("candidate_id", "candidate is not high_stakes; nothing to override")
	}

	ovrID := NewID()
	if _, err := tx.Exec(`
		INSERT INTO overrides (id, candidate_id, override_type, actor, justification)
		VALUES (?, ?, 'high_stakes_unverified', ?, ?)`,
		ovrID, candidateID, actor, strings.TrimSpace(justification)); err != nil {
		return nil, fmt.Errorf("inserting override: %w", err)
	}
	if _, err := tx.Exec(`UPDATE candidates SET gate_override_id = ? WHERE id = ?`, ovrID, candidateID); err != nil {
		return nil, err
	}

	c.GateOverride = &cop.Override{
		ID: ovrID, CandidateID: candidateID, Type: cop.OverrideHighStakesUnverified,
		Actor: actor, Justification: justification,
	}
	if err := recompute(tx, c); err != nil {
		return nil, err
	}

	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionOverrideCreate,
		EntityType: audit.EntityOverride, EntityID: ovrID,
		Justification: justification,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetOverride(ovrID)
}

// CosignOverride adds the second approver required by the two-person rule.
// The approver must be distinct from the original actor; once co-signed the
// record is immutable.
func (db *DB) CosignOverride(overrideID, approver string) (*cop.Override, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOverride(tx, overrideID)
	if err != nil {
		return nil, err
	}
	if o.Actor == approver {
		return nil, cop.Validationf("approver", "second approver must be distinct from the override actor")
	}
	if o.SecondApprover != "" {
		return nil, &cop.LedgerIntegrityError{Table: "overrides", Detail: "override already co-signed"}
	}

	res, err := tx.Exec(`
		UPDATE overrides SET second_approver = ?, second_approved_at = datetime('now')
		WHERE id = ? AND second_approver = ''`, approver, overrideID)
	if err != nil {
		return nil, mapImmutability(err, "overrides")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &cop.LedgerIntegrityError{Table: "overrides", Detail: "override already co-signed"}
	}

	if err := audit.Insert(tx, &audit.Entry{
		Actor: approver, Action: audit.ActionOverrideCosign,
		EntityType: audit.EntityOverride, EntityID: overrideID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetOverride(overrideID)
}

// GetOverride returns one override record.
func (db *DB) GetOverride(id string) (*cop.Override, error) {
	return getOverride(db, id)
}

// MergeCandidate marks source as superseded by target. The source keeps all
// its records; merged is terminal.
func (db *DB) MergeCandidate(sourceID, targetID, actor string) error {
	if sourceID == targetID {
		return cop.Validationf("target_id", "cannot merge a candidate into itself")
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	src, err := loadCandidate(tx, sourceID)
	if err != nil {
		return err
	}
	if src.Status != cop.StatusActive {
		return &cop.BlockedStateError{CandidateID: sourceID, Reason: "candidate is " + string(src.Status)}
	}
	if _, err := loadCandidate(tx, targetID); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE candidates SET status = 'merged', merged_into = ?, revision = revision + 1,
			updated_at = datetime('now')
		WHERE id = ?`, targetID, sourceID); err != nil {
		return err
	}

	after, _ := json.Marshal(map[string]string{"merged_into": targetID})
	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionCandidateMerge,
		EntityType: audit.EntityCandidate, EntityID: sourceID,
		After: string(after),
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveDraft stores working wording under optimistic concurrency. Draft text
// is never authoritative; readiness is recomputed because hedged-wording
// obligations read it.
func (db *DB) SaveDraft(candidateID string, revision int64, draft cop.DraftWording, actor string) (*cop.Candidate, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := loadCandidate(tx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != cop.StatusActive {
		return nil, &cop.BlockedStateError{CandidateID: candidateID, Reason: "candidate is " + string(c.Status)}
	}
	if c.Revision != revision {
		return nil, &cop.ConcurrencyConflictError{CandidateID: candidateID, ExpectedRevision: revision}
	}

	before, _ := json.Marshal(c.Draft)
	c.Draft = draft
	draftJSON, _ := json.Marshal(draft)

	res, err := tx.Exec(`UPDATE candidates SET draft_json = ? WHERE id = ? AND revision = ?`,
		string(draftJSON), candidateID, revision)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &cop.ConcurrencyConflictError{CandidateID: candidateID, ExpectedRevision: revision}
	}

	if err := recompute(tx, c); err != nil {
		return nil, err
	}
	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionCandidateDraft,
		EntityType: audit.EntityCandidate, EntityID: candidateID,
		Before: string(before), After: string(draftJSON),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetCandidate(candidateID)
}

// recompute evaluates readiness from the in-memory candidate and persists
// the derived columns, bumping the revision. Always called inside the
// mutating transaction.
func recompute(q queryer, c *cop.Candidate) error {
	ev := cop.EvaluateReadiness(c)
	c.Readiness = ev.State
	c.MissingFields = ev.MissingFields
	c.BlockingIssues = ev.BlockingIssues

	missing, _ := json.Marshal(ev.MissingFields)
	issues, _ := json.Marshal(ev.BlockingIssues)
	_, err := q.Exec(`
		UPDATE candidates SET readiness = ?, missing_fields_json = ?, blocking_issues_json = ?,
			revision = revision + 1, updated_at = datetime('now')
		WHERE id = ?`,
		string(ev.State), string(missing), string(issues), c.ID)
	if err != nil {
		return fmt.Errorf("persisting readiness: %w", err)
	}
	c.Revision++
	return nil
}

func loadCandidate(q queryer, id string) (*cop.Candidate, error) {
	row := q.QueryRow(`SELECT `+candidateCols+` FROM candidates WHERE id = ?`, id)
	c, riskOvrID, gateOvrID, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, cop.Validationf("candidate_id", "candidate %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if riskOvrID != "" {
		if c.RiskOverride, err = getOverride(q, riskOvrID); err != nil {
			return nil, err
		}
	}
	if gateOvrID != "" {
		if c.GateOverride, err = getOverride(q, gateOvrID); err != nil {
			return nil, err
		}
	}
	if c.Verifications, err = listVerifications(q, id); err != nil {
		return nil, err
	}
	if c.Conflicts, err = listConflictsForCandidate(q, id); err != nil {
		return nil, err
	}
	return c, nil
}

func scanCandidate(s interface{ Scan(...any) error }) (*cop.Candidate, string, string, error) {
	c := &cop.Candidate{}
	var signals, whenJSON, evidenceJSON, missing, issues, draftJSON string
	var riskOvrID, gateOvrID, mergedInto sql.NullString
	var riskTier, readiness, status string
	err := s.Scan(
		&c.ID, &c.ClusterID, &signals, &c.Fields.What, &c.Fields.Where, &whenJSON,
		&c.Fields.Who, &c.Fields.SoWhat, &evidenceJSON, &riskTier, &riskOvrID, &gateOvrID,
		&readiness, &missing, &issues, &draftJSON, &status, &mergedInto,
		&c.Revision, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, "", "", err
	}

	c.RiskTier = cop.RiskTier(riskTier)
	c.Readiness = cop.ReadinessState(readiness)
	c.Status = cop.CandidateStatus(status)
	if mergedInto.Valid {
		c.MergedInto = mergedInto.String
	}
	json.Unmarshal([]byte(signals), &c.PrimarySignalIDs)
	json.Unmarshal([]byte(whenJSON), &c.Fields.When)
	json.Unmarshal([]byte(evidenceJSON), &c.Evidence)
	json.Unmarshal([]byte(missing), &c.MissingFields)
	json.Unmarshal([]byte(issues), &c.BlockingIssues)
	json.Unmarshal([]byte(draftJSON), &c.Draft)

	return c, riskOvrID.String, gateOvrID.String, nil
}

func listVerifications(q queryer, candidateID string) ([]cop.Verification, error) {
	rows, err := q.Query(`
		SELECT id, actor, method, confidence, notes, recorded_at
		FROM verifications WHERE candidate_id = ?
		ORDER BY recorded_at, id`, candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cop.Verification
	for rows.Next() {
		var v cop.Verification
		var method, confidence string
		if err := rows.Scan(&v.ID, &v.Actor, &method, &confidence, &v.Notes, &v.RecordedAt); err != nil {
			return nil, err
		}
		v.Method = cop.VerificationMethod(method)
		v.Confidence = cop.Confidence(confidence)
		out = append(out, v)
	}
	return out, rows.Err()
}

func getOverride(q queryer, id string) (*cop.Override, error) {
	o := &cop.Override{}
	var ovrType, prevTier, newTier string
	var secondAt sql.NullTime
	err := q.QueryRow(`
		SELECT id, candidate_id, override_type, previous_tier, new_tier, actor,
			justification, second_approver, second_approved_at, created_at
		FROM overrides WHERE id = ?`, id).Scan(
		&o.ID, &o.CandidateID, &ovrType, &prevTier, &newTier, &o.Actor,
		&o.Justification, &o.SecondApprover, &secondAt, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, cop.Validationf("override_id", "override %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	o.Type = cop.OverrideType(ovrType)
	o.PreviousTier = cop.RiskTier(prevTier)
	o.NewTier = cop.RiskTier(newTier)
	if secondAt.Valid {
		o.SecondApprovedAt = &secondAt.Time
	}
	return o, nil
}
