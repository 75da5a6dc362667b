// Package cop holds the candidate lifecycle domain: readiness evaluation,
// risk classification and the publish gate. Everything here is pure
// value-in/value-out code; persistence lives in internal/db.
package cop

import "time"

// ReadinessState is always derived, never hand-set.
type ReadinessState string

const (
	Verified ReadinessState = "verified"
	InReview ReadinessState = "in_review"
	Blocked  ReadinessState = "blocked"
)

// RiskTier governs verification strictness before publication.
type RiskTier string

const (
	Routine    RiskTier = "routine"
	Elevated   RiskTier = "elevated"
	HighStakes RiskTier = "high_stakes"
)

// TierRank maps risk tiers to a comparable order.
func TierRank(t RiskTier) int {
	switch t {
	case HighStakes:
		return 3
	case Elevated:
		return 2
	case Routine:
		return 1
	default:
		return 0
	}
}

// ConflictSeverity orders contradiction records for blocking decisions.
type ConflictSeverity string

const (
	SeverityMinor    ConflictSeverity = "minor"
	SeverityModerate ConflictSeverity = "moderate"
	SeverityCritical ConflictSeverity = "critical"
)

// SeverityRank maps severities to a comparable order. Unknown values rank lowest.
func SeverityRank(s ConflictSeverity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// VerificationMethod describes how a human verified a claim.
type VerificationMethod string

const (
	MethodAuthoritativeSource VerificationMethod = "authoritative_source"
	MethodMultipleIndependent VerificationMethod = "multiple_independent"
	MethodDirectObservation   VerificationMethod = "direct_observation"
	MethodExpertConfirmation  VerificationMethod = "expert_confirmation"
)

// ValidMethod reports whether m is a known verification method.
func ValidMethod(m VerificationMethod) bool {
	switch m {
	case MethodAuthoritativeSource, MethodMultipleIndependent, MethodDirectObservation, MethodExpertConfirmation:
		return true
	}
	return false
}

// Confidence is the verifier's self-reported confidence.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// OverrideType distinguishes risk-tier changes from publish-gate bypasses.
type OverrideType string

const (
	OverrideRiskTier             OverrideType = "risk_tier"
	OverrideHighStakesUnverified OverrideType = "high_stakes_unverified"
)

// IssueType is the closed set of blocking-issue identifiers surfaced to callers.
type IssueType string

const (
	IssueMissingField           IssueType = "missing_field"
	IssueMissingEvidence        IssueType = "missing_evidence"
	IssueUnresolvedConflict     IssueType = "unresolved_conflict"
	IssueVerificationRequired   IssueType = "verification_required"
	IssueHedgedWordingRequired  IssueType = "hedged_wording_required"
	IssueHighStakesUnverified   IssueType = "high_stakes_unverified"
	IssueSecondApproverRequired IssueType = "second_approver_required"
)

// BlockingIssue is one reason a candidate cannot advance or publish.
type BlockingIssue struct {
	Type        IssueType        `json:"type"`
	CandidateID string           `json:"candidate_id,omitempty"`
	Field       string           `json:"field,omitempty"`
	Severity    ConflictSeverity `json:"severity,omitempty"`
	Detail      string           `json:"detail,omitempty"`
}

// RecommendedAction is the rule-derived next step for a facilitator.
type RecommendedAction string

const (
	ActionAssignVerification RecommendedAction = "assign_verification"
	ActionResolveConflict    RecommendedAction = "resolve_conflict"
	ActionAddEvidence        RecommendedAction = "add_evidence"
	ActionReadyToPublish     RecommendedAction = "ready_to_publish"
	ActionMergeCandidates    RecommendedAction = "merge_candidates"
)

// When is the structured time component of a candidate's fields.
type When struct {
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Timezone      string     `json:"timezone,omitempty"`
	IsApproximate bool       `json:"is_approximate"`
	Description   string     `json:"description,omitempty"`
}

// Empty reports whether no usable time information is present.
func (w When) Empty() bool {
	return w.Timestamp == nil && w.Description == ""
}

// Fields is the structured what/where/when/who/so-what of a candidate.
type Fields struct {
	What   string `json:"what"`
	Where  string `json:"where"`
	When   When   `json:"when"`
	Who    string `json:"who"`
	SoWhat string `json:"so_what"`
}

// Citation is one piece of evidence. Internal citations point back at source
// signals; external ones at outside sources. Both carry a credibility note.
type Citation struct {
	ID          string     `json:"id,omitempty"`
	Kind        string     `json:"kind"` // "internal" or "external"
	URL         string     `json:"url"`
	SourceName  string     `json:"source_name,omitempty"`
	Credibility string     `json:"credibility,omitempty"` // low, medium, high
	RetrievedAt *time.Time `json:"retrieved_at,omitempty"`
	Description string     `json:"description,omitempty"`
}

// EvidencePack is the full set of citations attached to a candidate.
type EvidencePack struct {
	Internal []Citation `json:"internal"`
	External []Citation `json:"external"`
}

// Count returns the total number of citations.
func (e EvidencePack) Count() int {
	return len(e.Internal) + len(e.External)
}

// Verification is one append-only human verification record.
type Verification struct {
	ID         string             `json:"id"`
	Actor      string             `json:"actor"`
	Method     VerificationMethod `json:"method"`
	Confidence Confidence         `json:"confidence"`
	Notes      string             `json:"notes,omitempty"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// Conflict is a recorded contradiction between candidates or signals.
// Resolution is terminal; a re-opened dispute is a new Conflict record.
type Conflict struct {
	ID             string           `json:"id"`
	Field          string           `json:"field"`
	Values         []string         `json:"values"`
	CandidateIDs   []string         `json:"candidate_ids"`
	Severity       ConflictSeverity `json:"severity"`
	Resolved       bool             `json:"resolved"`
	ResolutionNote string           `json:"resolution_note,omitempty"`
	ResolvedBy     string           `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
	CreatedBy      string           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Blocks reports whether this conflict vetoes verified status.
func (c Conflict) Blocks() bool {
	return !c.Resolved && SeverityRank(c.Severity) >= SeverityRank(SeverityModerate)
}

// Override is a justified, logged bypass record. For risk-tier overrides the
// previous/new tiers are recorded; for gate overrides they are empty.
// Once the approving chain is complete the record is immutable.
type Override struct {
	ID               string       `json:"id"`
	CandidateID      string       `json:"candidate_id"`
	Type             OverrideType `json:"type"`
	PreviousTier     RiskTier     `json:"previous_tier,omitempty"`
	NewTier          RiskTier     `json:"new_tier,omitempty"`
	Actor            string       `json:"actor"`
	Justification    string       `json:"justification"`
	SecondApprover   string       `json:"second_approver,omitempty"`
	SecondApprovedAt *time.Time   `json:"second_approved_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// DraftWording is mutable working text, not authoritative until published.
type DraftWording struct {
	Headline       string     `json:"headline,omitempty"`
	Body           string     `json:"body,omitempty"`
	HedgingApplied bool       `json:"hedging_applied"`
	RecheckAt      *time.Time `json:"recheck_at,omitempty"`
	NextStep       string     `json:"next_step,omitempty"`
}

// CandidateStatus tracks the lifecycle outside readiness: active candidates
// are in play, published and merged are terminal.
type CandidateStatus string

const (
	StatusActive    CandidateStatus = "active"
	StatusPublished CandidateStatus = "published"
	StatusMerged    CandidateStatus = "merged"
)

// Candidate is a facilitator-tracked claim moving through the pipeline.
type Candidate struct {
	ID               string          `json:"id"`
	ClusterID        string          `json:"cluster_id"`
	PrimarySignalIDs []string        `json:"primary_signal_ids,omitempty"`
	Fields           Fields          `json:"fields"`
	Evidence         EvidencePack    `json:"evidence"`
	Verifications    []Verification  `json:"verifications"`
	Conflicts        []Conflict      `json:"conflicts,omitempty"`
	RiskTier         RiskTier        `json:"risk_tier"`
	RiskOverride     *Override       `json:"risk_override,omitempty"`
	GateOverride     *Override       `json:"gate_override,omitempty"`
	Readiness        ReadinessState  `json:"readiness_state"`
	MissingFields    []string        `json:"missing_fields"`
	BlockingIssues   []BlockingIssue `json:"blocking_issues"`
	Draft            DraftWording    `json:"draft_wording"`
	Status           CandidateStatus `json:"status"`
	MergedInto       string          `json:"merged_into,omitempty"`
	Revision         int64           `json:"revision"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
