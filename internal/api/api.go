// Package api is the HTTP surface. Handlers extract the actor from JWT
// claims and pass it into storage operations explicitly; no domain code ever
// reads an ambient current user.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/larkspur/copdesk/internal/auth"
	"github.com/larkspur/copdesk/internal/cop"
	"github.com/larkspur/copdesk/internal/db"
	"github.com/larkspur/copdesk/internal/llm"
)

// handleRe validates handle format: ASCII alphanumeric, underscore, hyphen only.
var handleRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxBodySize is the maximum HTTP body size for JSON endpoints.
const maxBodySize = 200 * 1024 // 200KB

// LoginRateLimiter limits POST /api/login attempts (10 req/60s per IP).
var LoginRateLimiter = NewRateLimiter(10, 60*time.Second)

// WordingSuggester is the advisory drafting oracle. Nil disables the
// suggest endpoint; nothing else depends on it.
type WordingSuggester interface {
	SuggestWording(ctx context.Context, c *cop.Candidate) (*llm.Suggestion, error)
}

type API struct {
	db        *db.DB
	auth      *auth.Auth
	drafter   WordingSuggester
	twoPerson bool
	startedAt time.Time
}

func New(database *db.DB, a *auth.Auth, twoPerson bool) *API {
	return &API{db: database, auth: a, twoPerson: twoPerson, startedAt: time.Now()}
}

// SetDrafter wires the advisory drafting oracle.
func (a *API) SetDrafter(d WordingSuggester) {
	a.drafter = d
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Auth
	mux.HandleFunc("POST /api/register", a.handleRegister)
	mux.HandleFunc("POST /api/login", RateLimitMiddleware(LoginRateLimiter, a.handleLogin))
	mux.HandleFunc("GET /api/me", a.handleGetMe)

	// Candidates
	mux.HandleFunc("POST /api/candidates/promote", a.handlePromote)
	mux.HandleFunc("GET /api/candidates", a.handleListCandidates)
	mux.HandleFunc("GET /api/candidates/{id}", a.handleGetCandidate)
	mux.HandleFunc("PATCH /api/candidates/{id}", a.handleUpdateFields)
	mux.HandleFunc("GET /api/candidates/{id}/readiness", a.handleReadiness)
	mux.HandleFunc("POST /api/candidates/{id}/verify", a.handleVerify)
	mux.HandleFunc("POST /api/candidates/{id}/risk/override", a.handleRiskOverride)
	mux.HandleFunc("POST /api/candidates/{id}/override", a.handleGateOverride)
	mux.HandleFunc("POST /api/candidates/{id}/merge", a.handleMerge)
	mux.HandleFunc("POST /api/candidates/{id}/draft", a.handleSaveDraft)
	mux.HandleFunc("POST /api/candidates/{id}/draft/suggest", a.handleSuggestDraft)
	mux.HandleFunc("GET /api/candidates/{id}/conflicts", a.handleCandidateConflicts)

	// Conflicts
	mux.HandleFunc("POST /api/conflicts", a.handleRegisterConflict)
	mux.HandleFunc("POST /api/conflicts/{id}/resolve", a.handleResolveConflict)

	// Overrides
	mux.HandleFunc("POST /api/overrides/{id}/cosign", a.handleCosignOverride)

	// Publishing
	mux.HandleFunc("POST /api/publish/validate", a.handlePublishValidate)
	mux.HandleFunc("POST /api/publish/commit", a.handlePublishCommit)
	mux.HandleFunc("GET /api/versions", a.handleListVersions)
	mux.HandleFunc("GET /api/versions/{id}", a.handleGetVersion)
	mux.HandleFunc("GET /api/versions/{id}/export", a.handleExportVersion)

	// Ledger
	mux.HandleFunc("GET /api/audit", a.handleAuditQuery)
	mux.HandleFunc("GET /api/integrity", a.handleIntegrity)
}

// --- Auth handlers ---

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if !handleRe.MatchString(req.Handle) {
		jsonError(w, "handle must be alphanumeric with - or _", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		jsonError(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	// The first account administers the instance. After that, elevated roles
	// are granted by an admin, never self-assigned.
	role := req.Role
	count, err := a.db.CountUsers()
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if count == 0 {
		role = "admin"
	} else if role == "approver" || role == "admin" {
		claims := a.auth.ExtractClaims(r)
		if claims == nil || claims.Role != "admin" {
			jsonError(w, "admin token required to grant elevated roles", http.StatusForbidden)
			return
		}
	}

	hash, err := a.auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	user, err := a.db.CreateUser(req.Handle, hash, role)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	token, err := a.auth.GenerateToken(user.ID, user.Handle, user.Role)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusCreated, map[string]any{"user": user, "token": token})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	user, err := a.db.GetUserByHandle(req.Handle)
	if err != nil || !a.auth.CheckPassword(user.PasswordHash, req.Password) {
		jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := a.auth.GenerateToken(user.ID, user.Handle, user.Role)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"user": user, "token": token})
}

func (a *API) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	user, err := a.db.GetUser(claims.UserID)
	if err != nil {
		jsonError(w, "user not found", http.StatusNotFound)
		return
	}
	jsonResp(w, http.StatusOK, user)
}

// --- Helpers ---

// requireClaims writes a 401 and returns nil when no valid token is present.
func (a *API) requireClaims(w http.ResponseWriter, r *http.Request) *auth.Claims {
	claims := a.auth.ExtractClaims(r)
	if claims == nil {
		jsonError(w, "authentication required", http.StatusUnauthorized)
	}
	return claims
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return err
	}
	return nil
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses. Gate
// rejections carry the full issue list so the caller can fix everything in
// one pass.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	var (
		ve  *cop.ValidationError
		bse *cop.BlockedStateError
		cce *cop.ConcurrencyConflictError
		gre *cop.GateRejectedError
		lie *cop.LedgerIntegrityError
	)
	switch {
	case errors.As(err, &ve):
		jsonResp(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &bse):
		jsonResp(w, http.StatusConflict, map[string]any{"error": bse.Error(), "candidate_id": bse.CandidateID})
	case errors.As(err, &cce):
		jsonResp(w, http.StatusConflict, map[string]any{
			"error": cce.Error(), "candidate_id": cce.CandidateID, "expected_revision": cce.ExpectedRevision,
		})
	case errors.As(err, &gre):
		jsonResp(w, http.StatusUnprocessableEntity, map[string]any{
			"error": gre.Error(), "can_publish": false, "blocking_issues": gre.Issues,
		})
	case errors.As(err, &lie):
		jsonResp(w, http.StatusInternalServerError, map[string]any{"error": lie.Error(), "table": lie.Table})
	default:
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func jsonResp(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
