package api

import (
	"log/slog"
	"net/http"

	"github.com/larkspur/copdesk/internal/export"
)

type publishPlan struct {
	PlanID       string   `json:"plan_id"`
	CandidateIDs []string `json:"candidate_ids"`
	OverrideIDs  []string `json:"override_ids"`
}

func (a *API) handlePublishValidate(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	var req publishPlan
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	res, err := a.db.ValidatePublish(req.CandidateIDs, req.OverrideIDs, a.twoPerson)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (a *API) handlePublishCommit(w http.ResponseWriter, r *http.Request) {
	claims := a.requireClaims(w, r)
	if claims == nil {
		return
	}
	var req publishPlan
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	v, err := a.db.CommitPublish(req.PlanID, req.CandidateIDs, req.OverrideIDs, claims.UserID, a.twoPerson)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	slog.Info("version published", "version_id", v.ID, "version_number", v.VersionNumber, "actor", claims.Handle)
	jsonResp(w, http.StatusCreated, v)
}

func (a *API) handleListVersions(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	versions, err := a.db.ListVersions(50)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"versions": versions, "count": len(versions)})
}

func (a *API) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	v, err := a.db.GetVersion(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, v)
}

func (a *API) handleExportVersion(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	v, err := a.db.GetVersion(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(export.RenderMarkdown(v)))
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(export.RenderText(v)))
	default:
		jsonError(w, "unknown format, use markdown or text", http.StatusBadRequest)
	}
}
