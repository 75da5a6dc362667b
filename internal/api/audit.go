package api

import (
	"net/http"
	"time"
)

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		jsonError(w, "entity_type and entity_id are required", http.StatusBadRequest)
		return
	}

	entries, err := a.db.AuditTrail(entityType, entityID, 200)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// handleIntegrity reports table counts and the head version so operators can
// cross-check the ledger against an external copy.
func (a *API) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	if a.requireClaims(w, r) == nil {
		return
	}
	counts, err := a.db.GetCounts()
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"counts":         counts,
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
	}
	if head, err := a.db.HeadVersion(); err == nil && head != nil {
		resp["head_version"] = map[string]any{
			"id":             head.ID,
			"version_number": head.VersionNumber,
			"published_at":   head.PublishedAt,
		}
	}
	jsonResp(w, http.StatusOK, resp)
}
