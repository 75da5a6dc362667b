package db

import (
	"github.com/larkspur/copdesk/pkg/audit"
)

// AuditTrail returns an entity's audit history in chronological order.
func (db *DB) AuditTrail(entityType, entityID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, ts, actor, action, entity_type, entity_id, before_json, after_json,
			justification, abuse_flag, trace_id
		FROM audit_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY ts, id
		LIMIT ?`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var abuse int
		if err := rows.Scan(&e.ID, &e.TS, &e.Actor, &e.Action, &e.EntityType, &e.EntityID,
			&e.Before, &e.After, &e.Justification, &abuse, &e.TraceID); err != nil {
			return nil, err
		}
		e.AbuseFlag = abuse == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountAuditEntries returns the total size of the audit log.
func (db *DB) CountAuditEntries() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, err
}

// Counts reports table sizes for the integrity endpoint.
type Counts struct {
	Candidates   int64 `json:"candidates"`
	Conflicts    int64 `json:"conflicts"`
	Overrides    int64 `json:"overrides"`
	Versions     int64 `json:"versions"`
	AuditEntries int64 `json:"audit_entries"`
}

// GetCounts returns row counts across the core tables.
func (db *DB) GetCounts() (Counts, error) {
	var c Counts
	for _, t := range []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM candidates`, &c.Candidates},
		{`SELECT COUNT(*) FROM conflicts`, &c.Conflicts},
		{`SELECT COUNT(*) FROM overrides`, &c.Overrides},
		{`SELECT COUNT(*) FROM versions`, &c.Versions},
		{`SELECT COUNT(*) FROM audit_log`, &c.AuditEntries},
	} {
		if err := db.QueryRow(t.query).Scan(t.dst); err != nil {
			return c, err
		}
	}
	return c, nil
}
