// Package audit is the append-only forensic trail. Mutation entries are
// written synchronously inside the mutating transaction; request-level
// access entries go through the buffered async logger.
package audit

import "time"

// Action types form a closed enumeration. New actions are added here, never
// free-formed at call sites.
const (
	ActionCandidatePromote     = "cop_candidate.promote"
	ActionCandidateUpdate      = "cop_candidate.update_fields"
	ActionCandidateVerify      = "cop_candidate.verify"
	ActionCandidateRiskTier    = "cop_candidate.update_risk_tier"
	ActionCandidateMerge       = "cop_candidate.merge"
	ActionCandidateDraft       = "cop_candidate.draft"
	ActionConflictRegister     = "conflict.register"
	ActionConflictResolve      = "conflict.resolve"
	ActionOverrideCreate       = "override.create"
	ActionOverrideCosign       = "override.cosign"
	ActionPublish              = "cop_update.publish"
	ActionPublishOverride      = "cop_update.override"
	ActionAPIAccess            = "api.access"
)

// Entity types for audit targets.
const (
	EntityCandidate = "cop_candidate"
	EntityConflict  = "conflict"
	EntityOverride  = "override"
	EntityVersion   = "version"
	EntityAPI       = "api"
)

// Entry is one immutable audit fact.
type Entry struct {
	ID            string    `json:"id"`
	TS            time.Time `json:"ts"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Before        string    `json:"before,omitempty"`
	After         string    `json:"after,omitempty"`
	Justification string    `json:"justification,omitempty"`
	AbuseFlag     bool      `json:"abuse_flag,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
}
