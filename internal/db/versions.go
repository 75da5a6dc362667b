package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/larkspur/copdesk/internal/cop"
)

// Version is one immutable published artifact.
type Version struct {
	ID                string         `json:"id"`
	VersionNumber     int64          `json:"version_number"`
	PlanID            string         `json:"plan_id"`
	PreviousVersionID string         `json:"previous_version_id,omitempty"`
	PublishedBy       string         `json:"published_by"`
	PublishedAt       time.Time      `json:"published_at"`
	Overrides         []cop.Override `json:"overrides_exercised"`
	Metrics           VersionMetrics `json:"metrics"`
	Items             []VersionItem  `json:"items,omitempty"`
}

// VersionMetrics are counts computed at commit time and frozen with the
// version.
type VersionMetrics struct {
	TotalItems         int     `json:"total_items"`
	VerifiedCount      int     `json:"verified_count"`
	InReviewCount      int     `json:"in_review_count"`
	GapsCount          int     `json:"gaps_count"`
	OverridesExercised int     `json:"overrides_exercised"`
	ProvenanceCoverage float64 `json:"provenance_coverage"`
}

// VersionItem is a frozen snapshot of one candidate inside a version. The
// snapshot is an independent deep copy; later edits to the live candidate
// never reach it.
type VersionItem struct {
	CandidateID string        `json:"candidate_id"`
	Section     string        `json:"section"`
	Position    int           `json:"position"`
	Snapshot    cop.Candidate `json:"snapshot"`
}

// ListVersions returns committed versions, newest first, without items.
func (db *DB) ListVersions(limit int) ([]*Version, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, version_number, plan_id, previous_version_id, published_by, published_at, overrides_json, metrics_json
		FROM versions ORDER BY version_number DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion returns one version with its items.
func (db *DB) GetVersion(id string) (*Version, error) {
	return getVersion(db, id)
}

// HeadVersion returns the most recent version, or nil if none exist.
func (db *DB) HeadVersion() (*Version, error) {
	var id string
	err := db.QueryRow(`SELECT id FROM versions ORDER BY version_number DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.GetVersion(id)
}

func getVersion(q queryer, id string) (*Version, error) {
	row := q.QueryRow(`
		SELECT id, version_number, plan_id, previous_version_id, published_by, published_at, overrides_json, metrics_json
		FROM versions WHERE id = ?`, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, cop.Validationf("version_id", "version %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(`
		SELECT candidate_id, section, position, snapshot_json
		FROM version_items WHERE version_id = ?
		ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item VersionItem
		var snapshot string
		if err := rows.Scan(&item.CandidateID, &item.Section, &item.Position, &snapshot); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snapshot), &item.Snapshot); err != nil {
			return nil, err
		}
		v.Items = append(v.Items, item)
	}
	return v, rows.Err()
}

func scanVersion(s interface{ Scan(...any) error }) (*Version, error) {
	v := &Version{}
	var prev sql.NullString
	var overridesJSON, metricsJSON string
	err := s.Scan(&v.ID, &v.VersionNumber, &v.PlanID, &prev, &v.PublishedBy, &v.PublishedAt,
		&overridesJSON, &metricsJSON)
	if err != nil {
		return nil, err
	}
	if prev.Valid {
		v.PreviousVersionID = prev.String
	}
	json.Unmarshal([]byte(overridesJSON), &v.Overrides)
	json.Unmarshal([]byte(metricsJSON), &v.Metrics)
	return v, nil
}
