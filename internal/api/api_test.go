package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkspur/copdesk/internal/auth"
	"github.com/larkspur/copdesk/internal/db"
)

func newTestServer(t *testing.T, twoPerson bool) *httptest.Server {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "copdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	a := New(database, auth.New("test-secret", 60), twoPerson)
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func registerUser(t *testing.T, srv *httptest.Server, handle string) string {
	t.Helper()
	status, out := doJSON(t, "POST", srv.URL+"/api/register", "", map[string]any{
		"handle": handle, "password": "correct-horse", "role": "facilitator",
	})
	require.Equal(t, http.StatusCreated, status)
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t, false)
	registerUser(t, srv, "maya")

	status, out := doJSON(t, "POST", srv.URL+"/api/login", "", map[string]any{
		"handle": "maya", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, out["token"])

	status, out = doJSON(t, "POST", srv.URL+"/api/login", "", map[string]any{
		"handle": "maya", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid credentials", out["error"])
}

func TestRegisterRoleGrants(t *testing.T) {
	srv := newTestServer(t, false)

	// The first account bootstraps as admin regardless of the requested role.
	status, out := doJSON(t, "POST", srv.URL+"/api/register", "", map[string]any{
		"handle": "root", "password": "correct-horse", "role": "facilitator",
	})
	require.Equal(t, http.StatusCreated, status)
	admin, _ := out["token"].(string)
	user := out["user"].(map[string]any)
	assert.Equal(t, "admin", user["role"])

	// Elevated roles cannot be self-assigned.
	status, _ = doJSON(t, "POST", srv.URL+"/api/register", "", map[string]any{
		"handle": "sneaky", "password": "correct-horse", "role": "approver",
	})
	assert.Equal(t, http.StatusForbidden, status)

	// An admin grants them.
	status, out = doJSON(t, "POST", srv.URL+"/api/register", admin, map[string]any{
		"handle": "casey", "password": "correct-horse", "role": "approver",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "approver", out["user"].(map[string]any)["role"])
}

func TestCosignRequiresApproverRole(t *testing.T) {
	srv := newTestServer(t, true)
	admin := registerUser(t, srv, "root")

	status, out := doJSON(t, "POST", srv.URL+"/api/register", admin, map[string]any{
		"handle": "casey", "password": "correct-horse", "role": "approver",
	})
	require.Equal(t, http.StatusCreated, status)
	approver, _ := out["token"].(string)

	status, out = doJSON(t, "POST", srv.URL+"/api/register", "", map[string]any{
		"handle": "maya", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, status)
	facilitator, _ := out["token"].(string)

	_, cand := doJSON(t, "POST", srv.URL+"/api/candidates/promote", facilitator, map[string]any{
		"cluster_id": "cluster-1", "initial_risk_tier": "high_stakes",
	})
	id := cand["id"].(string)
	status, ovr := doJSON(t, "POST", srv.URL+"/api/candidates/"+id+"/override", facilitator, map[string]any{
		"justification": "closure confirmed verbally, written notice pending",
	})
	require.Equal(t, http.StatusCreated, status)
	ovrID := ovr["id"].(string)

	// Facilitators cannot satisfy the two-person rule.
	status, _ = doJSON(t, "POST", srv.URL+"/api/overrides/"+ovrID+"/cosign", facilitator, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, out = doJSON(t, "POST", srv.URL+"/api/overrides/"+ovrID+"/cosign", approver, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, out["second_approver"])
}

func TestAuthenticationRequired(t *testing.T) {
	srv := newTestServer(t, false)

	status, _ := doJSON(t, "GET", srv.URL+"/api/candidates", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, "POST", srv.URL+"/api/candidates/promote", "", map[string]any{"cluster_id": "cl-1"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCandidateLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	token := registerUser(t, srv, "maya")

	status, cand := doJSON(t, "POST", srv.URL+"/api/candidates/promote", token, map[string]any{
		"cluster_id": "cluster-7", "primary_signal_ids": []string{"sig-1"}, "initial_risk_tier": "routine",
	})
	require.Equal(t, http.StatusCreated, status)
	id, _ := cand["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "blocked", cand["readiness_state"])

	// Fill the required fields and attach evidence.
	status, cand = doJSON(t, "PATCH", srv.URL+"/api/candidates/"+id, token, map[string]any{
		"revision": cand["revision"],
		"patch": map[string]any{
			"what": "Shelter Alpha closure", "where": "123 Main St",
			"when":    map[string]any{"description": "this morning", "is_approximate": true},
			"so_what": "45 residents need relocation",
			"evidence": map[string]any{
				"external": []map[string]any{{"url": "https://example.org/report", "source_name": "County OEM"}},
			},
		},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "in_review", cand["readiness_state"])

	// A stale revision loses.
	status, out := doJSON(t, "PATCH", srv.URL+"/api/candidates/"+id, token, map[string]any{
		"revision": 0, "patch": map[string]any{"who": "Red Cross site lead"},
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.NotNil(t, out["expected_revision"])

	status, cand = doJSON(t, "POST", srv.URL+"/api/candidates/"+id+"/verify", token, map[string]any{
		"method": "authoritative_source", "confidence": "high", "notes": "confirmed by county EOC",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "verified", cand["readiness_state"])

	status, ev := doJSON(t, "GET", srv.URL+"/api/candidates/"+id+"/readiness", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "verified", ev["state"])
}

func TestPublishFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	token := registerUser(t, srv, "maya")

	_, cand := doJSON(t, "POST", srv.URL+"/api/candidates/promote", token, map[string]any{
		"cluster_id": "cluster-1", "initial_risk_tier": "routine",
	})
	id := cand["id"].(string)
	_, cand = doJSON(t, "PATCH", srv.URL+"/api/candidates/"+id, token, map[string]any{
		"revision": cand["revision"],
		"patch": map[string]any{
			"what": "Water distribution point open", "where": "Lincoln Park",
			"when":    map[string]any{"description": "since 09:00"},
			"so_what": "potable water available",
			"evidence": map[string]any{
				"external": []map[string]any{{"url": "https://example.org/water"}},
			},
		},
	})
	_, _ = doJSON(t, "POST", srv.URL+"/api/candidates/"+id+"/verify", token, map[string]any{
		"method": "authoritative_source", "confidence": "high",
	})

	status, res := doJSON(t, "POST", srv.URL+"/api/publish/validate", token, map[string]any{
		"candidate_ids": []string{id},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, res["can_publish"])

	status, ver := doJSON(t, "POST", srv.URL+"/api/publish/commit", token, map[string]any{
		"plan_id": "plan-http-1", "candidate_ids": []string{id},
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(1), ver["version_number"])
	verID := ver["id"].(string)

	// Same plan cannot be committed twice.
	status, _ = doJSON(t, "POST", srv.URL+"/api/publish/commit", token, map[string]any{
		"plan_id": "plan-http-1", "candidate_ids": []string{id},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	req, _ := http.NewRequest("GET", srv.URL+"/api/versions/"+verID+"/export?format=markdown", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "Water distribution point open")
}

func TestGateRejectionOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	token := registerUser(t, srv, "maya")

	// Evacuation wording classifies high stakes; without verification or an
	// override the gate must reject with the full issue list.
	_, cand := doJSON(t, "POST", srv.URL+"/api/candidates/promote", token, map[string]any{
		"cluster_id": "cluster-2", "initial_risk_tier": "routine",
	})
	id := cand["id"].(string)
	_, _ = doJSON(t, "PATCH", srv.URL+"/api/candidates/"+id, token, map[string]any{
		"revision": cand["revision"],
		"patch": map[string]any{
			"what": "Evacuation order for Zone B", "where": "Zone B",
			"when":    map[string]any{"description": "effective now"},
			"so_what": "residents must leave",
			"evidence": map[string]any{
				"external": []map[string]any{{"url": "https://example.org/evac"}},
			},
		},
	})

	status, out := doJSON(t, "POST", srv.URL+"/api/publish/commit", token, map[string]any{
		"plan_id": "plan-http-2", "candidate_ids": []string{id},
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, false, out["can_publish"])
	issues, _ := out["blocking_issues"].([]any)
	assert.NotEmpty(t, issues)
}

func TestAuditTrailOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	token := registerUser(t, srv, "maya")

	_, cand := doJSON(t, "POST", srv.URL+"/api/candidates/promote", token, map[string]any{
		"cluster_id": "cluster-3", "initial_risk_tier": "routine",
	})
	id := cand["id"].(string)

	status, out := doJSON(t, "GET",
		fmt.Sprintf("%s/api/audit?entity_type=cop_candidate&entity_id=%s", srv.URL, id), token, nil)
	require.Equal(t, http.StatusOK, status)
	entries, _ := out["entries"].([]any)
	require.NotEmpty(t, entries)
	first := entries[0].(map[string]any)
	assert.Equal(t, "cop_candidate.promote", first["action"])

	status, out = doJSON(t, "GET", srv.URL+"/api/integrity", token, nil)
	require.Equal(t, http.StatusOK, status)
	counts := out["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["candidates"])
}
