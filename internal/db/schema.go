package db

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	handle TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'facilitator' CHECK (role IN ('facilitator', 'approver', 'admin')),
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS candidates (
	id TEXT PRIMARY KEY,
	cluster_id TEXT NOT NULL,
	primary_signal_ids TEXT NOT NULL DEFAULT '[]',
	what TEXT NOT NULL DEFAULT '',
	where_text TEXT NOT NULL DEFAULT '',
	when_json TEXT NOT NULL DEFAULT '{}',
	who TEXT NOT NULL DEFAULT '',
	so_what TEXT NOT NULL DEFAULT '',
	evidence_json TEXT NOT NULL DEFAULT '{"internal":[],"external":[]}',
	risk_tier TEXT NOT NULL DEFAULT 'routine' CHECK (risk_tier IN ('routine', 'elevated', 'high_stakes')),
	risk_override_id TEXT REFERENCES overrides(id),
	gate_override_id TEXT REFERENCES overrides(id),
	readiness TEXT NOT NULL DEFAULT 'blocked' CHECK (readiness IN ('verified', 'in_review', 'blocked')),
	missing_fields_json TEXT NOT NULL DEFAULT '[]',
	blocking_issues_json TEXT NOT NULL DEFAULT '[]',
	draft_json TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'published', 'merged')),
	merged_into TEXT REFERENCES candidates(id),
	revision INTEGER NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_candidates_cluster ON candidates(cluster_id);
CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(status, updated_at);

CREATE TABLE IF NOT EXISTS verifications (
	id TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL REFERENCES candidates(id),
	actor TEXT NOT NULL,
	method TEXT NOT NULL CHECK (method IN ('authoritative_source', 'multiple_independent', 'direct_observation', 'expert_confirmation')),
	confidence TEXT NOT NULL DEFAULT 'medium' CHECK (confidence IN ('low', 'medium', 'high')),
	notes TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_verifications_candidate ON verifications(candidate_id, recorded_at);

-- Verification records are append-only.
CREATE TRIGGER IF NOT EXISTS verifications_no_update
BEFORE UPDATE ON verifications
BEGIN
	SELECT RAISE(ABORT, 'verifications are append-only');
END;

CREATE TRIGGER IF NOT EXISTS verifications_no_delete
BEFORE DELETE ON verifications
BEGIN
	SELECT RAISE(ABORT, 'verifications are append-only');
END;

CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	field TEXT NOT NULL,
	values_json TEXT NOT NULL DEFAULT '[]',
	severity TEXT NOT NULL CHECK (severity IN ('minor', 'moderate', 'critical')),
	resolved INTEGER NOT NULL DEFAULT 0 CHECK (resolved IN (0, 1)),
	resolution_note TEXT NOT NULL DEFAULT '',
	resolved_by TEXT NOT NULL DEFAULT '',
	resolved_at DATETIME,
	created_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS conflict_candidates (
	conflict_id TEXT NOT NULL REFERENCES conflicts(id),
	candidate_id TEXT NOT NULL REFERENCES candidates(id),
	PRIMARY KEY (conflict_id, candidate_id)
);

CREATE INDEX IF NOT EXISTS idx_conflict_candidates_candidate ON conflict_candidates(candidate_id);

-- Conflicts are never deleted, and resolution is terminal.
CREATE TRIGGER IF NOT EXISTS conflicts_no_delete
BEFORE DELETE ON conflicts
BEGIN
	SELECT RAISE(ABORT, 'conflicts are never deleted');
END;

CREATE TRIGGER IF NOT EXISTS conflicts_resolved_terminal
BEFORE UPDATE ON conflicts
WHEN OLD.resolved = 1
BEGIN
	SELECT RAISE(ABORT, 'resolved conflicts are immutable');
END;

CREATE TABLE IF NOT EXISTS overrides (
	id TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL REFERENCES candidates(id),
	override_type TEXT NOT NULL CHECK (override_type IN ('risk_tier', 'high_stakes_unverified')),
	previous_tier TEXT NOT NULL DEFAULT '',
	new_tier TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL,
	justification TEXT NOT NULL CHECK (length(trim(justification)) > 0),
	second_approver TEXT NOT NULL DEFAULT '',
	second_approved_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_overrides_candidate ON overrides(candidate_id, created_at);

-- An override whose approving chain is complete can no longer change.
CREATE TRIGGER IF NOT EXISTS overrides_no_delete
BEFORE DELETE ON overrides
BEGIN
	SELECT RAISE(ABORT, 'overrides are never deleted');
END;

CREATE TRIGGER IF NOT EXISTS overrides_cosigned_immutable
BEFORE UPDATE ON overrides
WHEN OLD.second_approver != ''
BEGIN
	SELECT RAISE(ABORT, 'co-signed overrides are immutable');
END;

CREATE TABLE IF NOT EXISTS versions (
	id TEXT PRIMARY KEY,
	version_number INTEGER NOT NULL UNIQUE,
	plan_id TEXT NOT NULL UNIQUE,
	previous_version_id TEXT REFERENCES versions(id),
	published_by TEXT NOT NULL,
	published_at DATETIME NOT NULL DEFAULT (datetime('now')),
	overrides_json TEXT NOT NULL DEFAULT '[]',
	metrics_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS version_items (
	version_id TEXT NOT NULL REFERENCES versions(id),
	candidate_id TEXT NOT NULL REFERENCES candidates(id),
	section TEXT NOT NULL CHECK (section IN ('verified', 'in_review', 'disproven', 'gaps')),
	position INTEGER NOT NULL DEFAULT 0,
	snapshot_json TEXT NOT NULL,
	PRIMARY KEY (version_id, candidate_id)
);

-- Published versions are write-once.
CREATE TRIGGER IF NOT EXISTS versions_no_update
BEFORE UPDATE ON versions
BEGIN
	SELECT RAISE(ABORT, 'versions are immutable');
END;

CREATE TRIGGER IF NOT EXISTS versions_no_delete
BEFORE DELETE ON versions
BEGIN
	SELECT RAISE(ABORT, 'versions are immutable');
END;

CREATE TRIGGER IF NOT EXISTS version_items_no_update
BEFORE UPDATE ON version_items
BEGIN
	SELECT RAISE(ABORT, 'version items are immutable');
END;

CREATE TRIGGER IF NOT EXISTS version_items_no_delete
BEFORE DELETE ON version_items
BEGIN
	SELECT RAISE(ABORT, 'version items are immutable');
END;

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL DEFAULT (datetime('now')),
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	before_json TEXT NOT NULL DEFAULT '',
	after_json TEXT NOT NULL DEFAULT '',
	justification TEXT NOT NULL DEFAULT '',
	abuse_flag INTEGER NOT NULL DEFAULT 0,
	trace_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id, ts);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor, ts);

-- The audit log is the forensic trail; nothing edits it.
CREATE TRIGGER IF NOT EXISTS audit_no_update
BEFORE UPDATE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit entries are immutable');
END;

CREATE TRIGGER IF NOT EXISTS audit_no_delete
BEFORE DELETE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit entries are immutable');
END;
`
