package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/org/secretplane/internal/crypto"
	"github.com/org/secretplane/internal/storage"
	"github.com/rs/zerolog"
)

const adminToken = "test-admin-token"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root, err := crypto.GenerateRootKey()
	if err != nil {
		t.Fatalf("generating root key: %v", err)
	}
	sealer, err := crypto.NewSealer(root)
	if err != nil {
		t.Fatalf("creating sealer: %v", err)
	}
	srv := NewServer(storage.NewMemory(), sealer, Config{
		ListenAddr:       "127.0.0.1:0",
		OrgID:            "org1",
		AdminToken:       adminToken,
		CheckpointWindow: 5,
	}, zerolog.Nop())
	if err := srv.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func createProject(t *testing.T, handler http.Handler, name string) string {
	t.Helper()
	w := doJSON(t, handler, "POST", "/v1/projects", map[string]any{"name": name}, adminToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("project create failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	return body["project"].(map[string]any)["ID"].(string)
}

func issueToken(t *testing.T, handler http.Handler, projectID, role string, trustedIPs []map[string]any) string {
	t.Helper()
	req := map[string]any{"name": role + "-token", "role": role}
	if trustedIPs != nil {
		req["trustedIps"] = trustedIPs
	}
	w := doJSON(t, handler, "POST", "/v1/projects/"+projectID+"/tokens", req, adminToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("token create failed: %d %s", w.Code, w.Body.String())
	}
	return decodeBody(t, w)["plaintext"].(string)
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	w := doJSON(t, handler, "GET", "/v1/sys/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", body["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	handler := newTestServer(t).BuildRouter()

	w := doJSON(t, handler, "GET", "/v1/projects", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	w = doJSON(t, handler, "GET", "/v1/projects", nil, "spt_bogus")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown token, got %d", w.Code)
	}
}

func TestProjectLifecycle(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	projectID := createProject(t, handler, "backend")

	w := doJSON(t, handler, "GET", "/v1/projects/"+projectID, nil, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("project get failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "GET", "/v1/projects/"+projectID+"/environments", nil, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("environments failed: %d", w.Code)
	}
	envs := decodeBody(t, w)["environments"].([]any)
	if len(envs) != 3 {
		t.Errorf("expected 3 default environments, got %d", len(envs))
	}

	w = doJSON(t, handler, "DELETE", "/v1/projects/"+projectID, nil, adminToken)
	if w.Code != http.StatusNoContent {
		t.Errorf("project delete failed: %d", w.Code)
	}
	w = doJSON(t, handler, "GET", "/v1/projects/"+projectID, nil, adminToken)
	if w.Code != http.StatusUnauthorized && w.Code != http.StatusNotFound {
		t.Errorf("expected 401/404 after delete, got %d", w.Code)
	}
}

func TestSecretFlow(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	projectID := createProject(t, handler, "backend")
	memberToken := issueToken(t, handler, projectID, "member", nil)

	base := "/v1/projects/" + projectID + "/environments/dev/secrets/DB_URL"

	w := doJSON(t, handler, "POST", base, map[string]any{"path": "/", "value": "postgres://one"}, memberToken)
	if w.Code != http.StatusOK {
		t.Fatalf("secret set failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "GET", base+"?path=/", nil, memberToken)
	if w.Code != http.StatusOK {
		t.Fatalf("secret get failed: %d %s", w.Code, w.Body.String())
	}
	sec := decodeBody(t, w)["secret"].(map[string]any)
	if sec["value"] != "postgres://one" {
		t.Errorf("expected postgres://one, got %v", sec["value"])
	}

	// Update, then read the old version back.
	doJSON(t, handler, "POST", base, map[string]any{"path": "/", "value": "postgres://two"}, memberToken)
	w = doJSON(t, handler, "GET", base+"?path=/&version=1", nil, memberToken)
	if w.Code != http.StatusOK {
		t.Fatalf("versioned get failed: %d %s", w.Code, w.Body.String())
	}
	if sec := decodeBody(t, w)["secret"].(map[string]any); sec["value"] != "postgres://one" {
		t.Errorf("expected version 1 value, got %v", sec["value"])
	}

	w = doJSON(t, handler, "DELETE", base+"?path=/", nil, memberToken)
	if w.Code != http.StatusNoContent {
		t.Errorf("secret delete failed: %d", w.Code)
	}
}

// A viewer token can read but every mutation is rejected with 403.
func TestViewerTokenCannotWrite(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	projectID := createProject(t, handler, "backend")
	memberToken := issueToken(t, handler, projectID, "member", nil)
	viewerToken := issueToken(t, handler, projectID, "viewer", nil)

	base := "/v1/projects/" + projectID + "/environments/dev/secrets/TOKEN"
	doJSON(t, handler, "POST", base, map[string]any{"path": "/", "value": "x"}, memberToken)

	w := doJSON(t, handler, "GET", base+"?path=/", nil, viewerToken)
	if w.Code != http.StatusOK {
		t.Errorf("viewer read failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "POST", base, map[string]any{"path": "/", "value": "y"}, viewerToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for viewer write, got %d", w.Code)
	}
	w = doJSON(t, handler, "DELETE", base+"?path=/", nil, viewerToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for viewer delete, got %d", w.Code)
	}
	w = doJSON(t, handler, "POST", "/v1/projects/"+projectID+"/environments/dev/folders",
		map[string]any{"parentPath": "/", "name": "api"}, viewerToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for viewer folder create, got %d", w.Code)
	}
}

// Requests from outside a token's trusted-IP allowlist are rejected at the
// authentication boundary.
func TestTrustedIPEnforcement(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	projectID := createProject(t, handler, "backend")
	token := issueToken(t, handler, projectID, "member", []map[string]any{
		{"ipAddress": "10.0.0.0", "type": "ipv4", "prefix": 24},
	})

	get := func(ip string) int {
		req := httptest.NewRequest("GET", "/v1/projects/"+projectID+"/environments/dev/secrets?path=/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Forwarded-For", ip)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := get("10.0.0.5"); code != http.StatusOK {
		t.Errorf("expected 200 from inside the CIDR, got %d", code)
	}
	if code := get("192.0.2.1"); code != http.StatusUnauthorized {
		t.Errorf("expected 401 from outside the CIDR, got %d", code)
	}
}

func TestCommitHistoryEndpoints(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	projectID := createProject(t, handler, "backend")
	memberToken := issueToken(t, handler, projectID, "member", nil)

	base := "/v1/projects/" + projectID + "/environments/dev/secrets/A"
	doJSON(t, handler, "POST", base, map[string]any{"path": "/", "value": "one"}, memberToken)
	doJSON(t, handler, "POST", base, map[string]any{"path": "/", "value": "two"}, memberToken)

	w := doJSON(t, handler, "GET", "/v1/projects/"+projectID+"/environments/dev/commits?path=/", nil, memberToken)
	if w.Code != http.StatusOK {
		t.Fatalf("commit list failed: %d %s", w.Code, w.Body.String())
	}
	commits := decodeBody(t, w)["commits"].([]any)
	if len(commits) < 3 {
		t.Fatalf("expected at least 3 commits, got %d", len(commits))
	}
	latest := commits[0].(map[string]any)
	commitID := latest["ID"].(string)
	if latest["Message"] != "secret A updated" {
		t.Errorf("unexpected latest commit message: %v", latest["Message"])
	}

	w = doJSON(t, handler, "GET", "/v1/projects/"+projectID+"/commits/"+commitID, nil, memberToken)
	if w.Code != http.StatusOK {
		t.Fatalf("commit get failed: %d %s", w.Code, w.Body.String())
	}

	// Revert the update; state at the revert commit shows version 1 again.
	w = doJSON(t, handler, "POST", "/v1/projects/"+projectID+"/commits/"+commitID+"/revert", nil, memberToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("revert failed: %d %s", w.Code, w.Body.String())
	}
	revertID := decodeBody(t, w)["commit"].(map[string]any)["ID"].(string)

	w = doJSON(t, handler, "GET", "/v1/projects/"+projectID+"/commits/"+revertID+"/state", nil, memberToken)
	if w.Code != http.StatusOK {
		t.Fatalf("state failed: %d %s", w.Code, w.Body.String())
	}
	resources := decodeBody(t, w)["resources"].([]any)
	if len(resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(resources))
	}
	if v := resources[0].(map[string]any)["Version"].(float64); v != 1 {
		t.Errorf("expected version 1 after revert, got %v", v)
	}
}

func TestCustomRoleCRUD(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	projectID := createProject(t, handler, "backend")

	w := doJSON(t, handler, "POST", "/v1/projects/"+projectID+"/roles", map[string]any{
		"slug": "dev-reader",
		"name": "Dev Reader",
		"permissions": []map[string]any{
			{"action": "read", "subject": "secrets", "conditions": map[string]any{
				"environment": "dev",
				"secretPath":  map[string]any{"$glob": "/app/**"},
			}},
		},
	}, adminToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("role create failed: %d %s", w.Code, w.Body.String())
	}
	roleID := decodeBody(t, w)["role"].(map[string]any)["ID"].(string)

	w = doJSON(t, handler, "GET", "/v1/projects/"+projectID+"/roles", nil, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("role list failed: %d", w.Code)
	}
	if roles := decodeBody(t, w)["roles"].([]any); len(roles) != 1 {
		t.Errorf("expected 1 role, got %d", len(roles))
	}

	w = doJSON(t, handler, "PUT", "/v1/projects/"+projectID+"/roles/"+roleID,
		map[string]any{"name": "Dev Read Only"}, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("role update failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "DELETE", "/v1/projects/"+projectID+"/roles/"+roleID, nil, adminToken)
	if w.Code != http.StatusNoContent {
		t.Errorf("role delete failed: %d", w.Code)
	}
}

func TestTokenRevocationEndpoint(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	projectID := createProject(t, handler, "backend")
	memberToken := issueToken(t, handler, projectID, "member", nil)

	w := doJSON(t, handler, "GET", "/v1/projects/"+projectID+"/tokens", nil, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("token list failed: %d", w.Code)
	}
	tokens := decodeBody(t, w)["tokens"].([]any)
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	tokenID := tokens[0].(map[string]any)["ID"].(string)

	w = doJSON(t, handler, "DELETE", "/v1/projects/"+projectID+"/tokens/"+tokenID, nil, adminToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("token revoke failed: %d", w.Code)
	}

	w = doJSON(t, handler, "GET", "/v1/projects/"+projectID+"/environments/dev/secrets?path=/", nil, memberToken)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for revoked token, got %d", w.Code)
	}
}

func TestAuditLogEndpoint(t *testing.T) {
	handler := newTestServer(t).BuildRouter()
	projectID := createProject(t, handler, "backend")
	memberToken := issueToken(t, handler, projectID, "member", nil)

	doJSON(t, handler, "POST", "/v1/projects/"+projectID+"/environments/dev/secrets/A",
		map[string]any{"path": "/", "value": "x"}, memberToken)

	w := doJSON(t, handler, "GET", "/v1/projects/"+projectID+"/audit-log", nil, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("audit log failed: %d %s", w.Code, w.Body.String())
	}
	entries := decodeBody(t, w)["entries"].([]any)
	if len(entries) == 0 {
		t.Error("expected at least one audit entry for the member token's write")
	}
}
