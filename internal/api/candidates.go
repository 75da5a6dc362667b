package api

import (
	"log/slog"
	"net/http"

	"github.com/larkspur/copdesk/internal/cop"
	"github.com/larkspur/copdesk/internal/db"
)

func (a *API) handlePromote(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		ClusterID        string       `json:"cluster_id"`
		PrimarySignalIDs []string     `json:"primary_signal_ids"`
		InitialRiskTier  cop.RiskTier `json:"initial_risk_tier"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	c, err := a.db.PromoteCandidate(claims.UserID, req.ClusterID, req.PrimarySignalIDs, req.InitialRiskTier)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	slog.Info("candidate promoted", "candidate_id", c.ID, "cluster_id", req.ClusterID, "actor", claims.Handle)
	jsonResp(w, http.StatusCreated, c)
}

func (a *API) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	status := r.URL.Query().Get("status")
	list, err := a.db.ListCandidates(status, 100)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"candidates": list, "count": len(list)})
}

func (a *API) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	c, err := a.db.GetCandidate(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, c)
}

func (a *API) handleUpdateFields(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Revision int64          `json:"revision"`
		Patch    db.FieldsPatch `json:"patch"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	c, err := a.db.UpdateCandidateFields(r.PathValue("id"), req.Revision, req.Patch, claims.UserID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, c)
}

func (a *API) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	c, err := a.db.GetCandidate(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	// Readiness is derived; evaluate fresh rather than trusting stored columns.
	ev := cop.EvaluateReadiness(c)
	jsonResp(w, http.StatusOK, ev)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Method     cop.VerificationMethod `json:"method"`
		Confidence cop.Confidence         `json:"confidence"`
		Notes      string                 `json:"notes"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	c, err := a.db.AddVerification(r.PathValue("id"), claims.UserID, req.Method, req.Confidence, req.Notes)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	slog.Info("verification recorded", "candidate_id", c.ID, "method", req.Method, "actor", claims.Handle)
	jsonResp(w, http.StatusOK, c)
}

func (a *API) handleRiskOverride(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		NewTier       cop.RiskTier `json:"new_tier"`
		Justification string       `json:"justification"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	c, err := a.db.OverrideRiskTier(r.PathValue("id"), req.NewTier, claims.UserID, req.Justification)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	slog.Warn("risk tier overridden", "candidate_id", c.ID, "new_tier", req.NewTier, "actor", claims.Handle)
	jsonResp(w, http.StatusOK, c)
}

func (a *API) handleGateOverride(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Justification string `json:"justification"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	ovr, err := a.db.CreateGateOverride(r.PathValue("id"), claims.UserID, req.Justification)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	slog.Warn("publish gate override created", "candidate_id", ovr.CandidateID, "override_id", ovr.ID, "actor", claims.Handle)
	jsonResp(w, http.StatusCreated, ovr)
}

func (a *API) handleCosignOverride(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	// Re-read the role from storage so a revoked grant takes effect
	// immediately, not at token expiry.
	user, err := a.db.GetUser(claims.UserID)
	if err != nil || (user.Role != "approver" && user.Role != "admin") {
		jsonError(w, "co-signing requires the approver role", http.StatusForbidden)
		return
	}
	ovr, err := a.db.CosignOverride(r.PathValue("id"), claims.UserID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, ovr)
}

func (a *API) handleMerge(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		TargetID string `json:"target_id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	sourceID := r.PathValue("id")
	if err := a.db.MergeCandidate(sourceID, req.TargetID, claims.UserID); err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"merged": sourceID, "into": req.TargetID})
}

func (a *API) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Revision int64            `json:"revision"`
		Draft    cop.DraftWording `json:"draft"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	c, err := a.db.SaveDraft(r.PathValue("id"), req.Revision, req.Draft, claims.UserID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, c)
}

// handleSuggestDraft returns advisory wording. The suggestion is not saved;
// the caller reviews it and submits through the draft endpoint.
func (a *API) handleSuggestDraft(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	if a.drafter == nil {
		jsonError(w, "drafting oracle not configured", http.StatusServiceUnavailable)
		return
	}
	c, err := a.db.GetCandidate(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	s, err := a.drafter.SuggestWording(r.Context(), c)
	if err != nil {
		slog.Error("draft suggestion failed", "candidate_id", c.ID, "error", err)
		jsonError(w, "drafting oracle unavailable", http.StatusBadGateway)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"suggestion": s, "advisory": true})
}
