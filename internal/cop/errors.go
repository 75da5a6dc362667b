package cop

import "fmt"

// ValidationError rejects malformed input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
	}
	return "validation failed: " + e.Reason
}

// Validationf builds a ValidationError for field with a formatted reason.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// BlockedStateError signals an operation attempted on a candidate whose
// readiness or lifecycle state forbids it.
type BlockedStateError struct {
	CandidateID string
	Reason      string
}

func (e *BlockedStateError) Error() string {
	return fmt.Sprintf("candidate %s blocked: %s", e.CandidateID, e.Reason)
}

// ConcurrencyConflictError signals a stale-revision write. The caller should
// re-read and retry.
type ConcurrencyConflictError struct {
	CandidateID      string
	ExpectedRevision int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("candidate %s modified since revision %d", e.CandidateID, e.ExpectedRevision)
}

// GateRejectedError carries the full set of blocking issues that stopped a
// publish plan.
type GateRejectedError struct {
	Issues []BlockingIssue
}

func (e *GateRejectedError) Error() string {
	return fmt.Sprintf("publish rejected with %d blocking issue(s)", len(e.Issues))
}

// LedgerIntegrityError signals an attempted mutation of an append-only record.
type LedgerIntegrityError struct {
	Table  string
	Detail string
}

func (e *LedgerIntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation on %s: %s", e.Table, e.Detail)
}
