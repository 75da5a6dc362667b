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

// RegisterConflict records a contradiction across one or more candidates.
// Every referenced candidate's readiness is recomputed in the same
// transaction, so a verified candidate hit by a qualifying conflict is never
// observable as verified afterwards.
func (db *DB) RegisterConflict(field string, values []string, candidateIDs []string, severity cop.ConflictSeverity, actor string) (_ *cop.Conflict, err error) {
	defer func(start time.Time) { db.observe("conflict.register", start, err) }(time.Now())

	if strings.TrimSpace(field) == "" {
		return nil, cop.Validationf("field", "required")
	}
	if len(candidateIDs) == 0 {
		return nil, cop.Validationf("candidate_ids", "at least one candidate required")
	}
	if cop.SeverityRank(severity) == 0 {
		return nil, cop.Validationf("severity", "unknown severity %q", severity)
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := NewID()
	valuesJSON, _ := json.Marshal(values)
	if _, err := tx.Exec(`
		INSERT INTO conflicts (id, field, values_json, severity, created_by)
		VALUES (?, ?, ?, ?, ?)`,
		id, field, string(valuesJSON), string(severity), actor); err != nil {
		return nil, fmt.Errorf("inserting conflict: %w", err)
	}

	for _, cid := range candidateIDs {
		c, err := loadCandidate(tx, cid)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`INSERT INTO conflict_candidates (conflict_id, candidate_id) VALUES (?, ?)`, id, cid); err != nil {
			return nil, fmt.Errorf("linking conflict: %w", err)
		}
		c.Conflicts = append(c.Conflicts, cop.Conflict{
			ID: id, Field: field, Values: values, CandidateIDs: candidateIDs, Severity: severity,
		})
		if err := recompute(tx, c); err != nil {
			return nil, err
		}
	}

	after, _ := json.Marshal(map[string]any{
		"field": field, "severity": severity, "candidate_ids": candidateIDs,
	})
	if err := audit.Insert(tx, &audit.Entry{
		Actor: actor, Action: audit.ActionConflictRegister,
		EntityType: audit.EntityConflict, EntityID: id,
		After: string(after),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetConflict(id)
}

// ResolveConflict marks a conflict resolved. Resolution is terminal and
// requires a note and a resolver; all linked candidates are re-evaluated in
// the same transaction. A dispute over a resolved conflict is a new record.
func (db *DB) ResolveConflict(id, note, resolver string) (*cop.Conflict, error) {
	if strings.TrimSpace(note) == "" {
		return nil, cop.Validationf("resolution_note", "required")
	}
	if strings.TrimSpace(resolver) == "" {
		return nil, cop.Validationf("resolver", "required")
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE conflicts SET resolved = 1, resolution_note = ?, resolved_by = ?, resolved_at = datetime('now')
		WHERE id = ? AND resolved = 0`, note, resolver, id)
	if err != nil {
		return nil, mapImmutability(err, "conflicts")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := getConflict(tx, id); err != nil {
			return nil, err
		}
		return nil, &cop.LedgerIntegrityError{Table: "conflicts", Detail: "conflict already resolved"}
	}

	ids, err := conflictCandidateIDs(tx, id)
	if err != nil {
		return nil, err
	}
	for _, cid := range ids {
		c, err := loadCandidate(tx, cid)
		if err != nil {
			return nil, err
		}
		if err := recompute(tx, c); err != nil {
			return nil, err
		}
	}

	after, _ := json.Marshal(map[string]string{"resolution_note": note})
	if err := audit.Insert(tx, &audit.Entry{
		Actor: resolver, Action: audit.ActionConflictResolve,
		EntityType: audit.EntityConflict, EntityID: id,
		After: string(after), Justification: note,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetConflict(id)
}

// GetConflict returns one conflict with its candidate links.
func (db *DB) GetConflict(id string) (*cop.Conflict, error) {
	return getConflict(db, id)
}

// GetConflictsForCandidate returns every conflict referencing a candidate,
// newest first.
func (db *DB) GetConflictsForCandidate(candidateID string) ([]cop.Conflict, error) {
	return listConflictsForCandidate(db, candidateID)
}

func getConflict(q queryer, id string) (*cop.Conflict, error) {
	row := q.QueryRow(`
		SELECT id, field, values_json, severity, resolved, resolution_note, resolved_by, resolved_at, created_by, created_at
		FROM conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, cop.Validationf("conflict_id", "conflict %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if c.CandidateIDs, err = conflictCandidateIDs(q, id); err != nil {
		return nil, err
	}
	return c, nil
}

func listConflictsForCandidate(q queryer, candidateID string) ([]cop.Conflict, error) {
	rows, err := q.Query(`
		SELECT c.id, c.field, c.values_json, c.severity, c.resolved, c.resolution_note,
			c.resolved_by, c.resolved_at, c.created_by, c.created_at
		FROM conflicts c
		JOIN conflict_candidates cc ON cc.conflict_id = c.id
		WHERE cc.candidate_id = ?
		ORDER BY c.created_at DESC, c.id`, candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cop.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].CandidateIDs, err = conflictCandidateIDs(q, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func conflictCandidateIDs(q queryer, conflictID string) ([]string, error) {
	rows, err := q.Query(`SELECT candidate_id FROM conflict_candidates WHERE conflict_id = ? ORDER BY candidate_id`, conflictID)
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
	return ids, rows.Err()
}

func scanConflict(s interface{ Scan(...any) error }) (*cop.Conflict, error) {
	c := &cop.Conflict{}
	var valuesJSON, severity string
	var resolved int
	var resolvedAt sql.NullTime
	err := s.Scan(&c.ID, &c.Field, &valuesJSON, &severity, &resolved,
		&c.ResolutionNote, &c.ResolvedBy, &resolvedAt, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Severity = cop.ConflictSeverity(severity)
	c.Resolved = resolved == 1
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	json.Unmarshal([]byte(valuesJSON), &c.Values)
	return c, nil
}
