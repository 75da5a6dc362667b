package api

import (
	"log/slog"
	"net/http"

	"github.com/larkspur/copdesk/internal/cop"
)

func (a *API) handleRegisterConflict(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		Field        string               `json:"field"`
		Values       []string             `json:"values"`
		CandidateIDs []string             `json:"candidate_ids"`
		Severity     cop.ConflictSeverity `json:"severity"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	conf, err := a.db.RegisterConflict(req.Field, req.Values, req.CandidateIDs, req.Severity, claims.UserID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	slog.Info("conflict registered", "conflict_id", conf.ID, "severity", conf.Severity, "candidates", len(conf.CandidateIDs))
	jsonResp(w, http.StatusCreated, conf)
}

func (a *API) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req struct {
		ResolutionNote string `json:"resolution_note"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	conf, err := a.db.ResolveConflict(r.PathValue("id"), req.ResolutionNote, claims.UserID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, conf)
}

func (a *API) handleCandidateConflicts(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	conflicts, err := a.db.GetConflictsForCandidate(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"conflicts": conflicts, "count": len(conflicts)})
}
