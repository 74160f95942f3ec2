package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/mfa"
	"idgate.org/internal/rbac"
	"idgate.org/internal/store/memory"
	"idgate.org/internal/token"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	clock   *testClock
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	return newTestAPIWithOptions(t, Options{
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})
}

func newTestAPIWithOptions(t *testing.T, opts Options) *apiClient {
	t.Helper()

	store := memory.New()
	rbacSvc, err := rbac.NewService(store)
	if err != nil {
		t.Fatalf("rbac.NewService: %v", err)
	}
	if err := rbacSvc.EnsureDefaultRoles(context.Background()); err != nil {
		t.Fatalf("EnsureDefaultRoles: %v", err)
	}

	tokens, err := token.NewService("test-secret-0123456789", "idgate-test")
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}
	clock := &testClock{now: time.Unix(1700000000, 0)}
	mfaSvc := mfa.NewService(store, tokens, "idgate-test", mfa.WithClock(clock.Now))
	resolver := identity.NewResolver(store)

	api := New(rbacSvc, resolver, mfaSvc, tokens, ReadyProbe{}, "test", opts)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		clock:   clock,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) decode(resp *http.Response, dst any) {
	c.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
}

// login performs the full login flow for a provider assertion and returns
// the bearer token.
func (c *apiClient) login(provider, subject, email string) string {
	c.t.Helper()
	attrs := map[string]any{"sub": subject}
	if email != "" {
		attrs["email"] = email
	}
	resp := c.post("/v1/auth/login", map[string]any{
		"provider":   provider,
		"attributes": attrs,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status %d", resp.StatusCode)
	}
	var payload struct {
		Token       string `json:"token"`
		MFARequired bool   `json:"mfa_required"`
	}
	c.decode(resp, &payload)
	if payload.MFARequired {
		c.t.Fatalf("unexpected mfa challenge for %s", email)
	}
	return payload.Token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/user/profile", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp2 := api.get("/v1/user/profile", authHeaders("garbage"))
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp2.StatusCode)
	}
}

func TestFirstLoginGrantsAdmin(t *testing.T) {
	api := newTestAPI(t)

	adminTok := api.login("google", "g-1", "first@example.com")
	userTok := api.login("google", "g-2", "second@example.com")

	resp := api.get("/v1/admin/stats", authHeaders(adminTok))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first account must reach admin routes, got %d", resp.StatusCode)
	}

	resp2 := api.get("/v1/admin/stats", authHeaders(userTok))
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Fatalf("second account must be denied, got %d", resp2.StatusCode)
	}
}

func TestDashboardGateLifecycle(t *testing.T) {
	api := newTestAPI(t)

	adminTok := api.login("google", "g-1", "admin@example.com")
	userTok := api.login("google", "g-2", "user@example.com")

	// nobody registered the dashboard resource yet: open
	resp := api.get("/v1/user/dashboard", authHeaders(userTok))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unregistered resource must stay open, got %d", resp.StatusCode)
	}

	// register the resource: now it is gated
	var res rbac.Resource
	createResp := api.post("/v1/rbac/resources", map[string]any{
		"name": "Dashboard", "path": "dashboard",
	}, authHeaders(adminTok))
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create resource status %d", createResp.StatusCode)
	}
	api.decode(createResp, &res)

	resp = api.get("/v1/user/dashboard", authHeaders(userTok))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("registered resource without grant must deny, got %d", resp.StatusCode)
	}

	// admins bypass the gate
	resp = api.get("/v1/user/dashboard", authHeaders(adminTok))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin must bypass the gate, got %d", resp.StatusCode)
	}

	// grant READ on dashboard to a new role and hand it to the user
	var perm rbac.Permission
	permResp := api.post("/v1/rbac/permissions", map[string]any{
		"resource_id": res.ID, "operation": "READ",
	}, authHeaders(adminTok))
	if permResp.StatusCode != http.StatusCreated {
		t.Fatalf("create permission status %d", permResp.StatusCode)
	}
	api.decode(permResp, &perm)

	var role rbac.Role
	roleResp := api.post("/v1/rbac/roles", map[string]any{"name": "VIEWER"}, authHeaders(adminTok))
	if roleResp.StatusCode != http.StatusCreated {
		t.Fatalf("create role status %d", roleResp.StatusCode)
	}
	api.decode(roleResp, &role)

	linkResp := api.do(http.MethodPut, "/v1/rbac/roles/"+role.ID+"/permissions/"+perm.ID, nil, authHeaders(adminTok))
	linkResp.Body.Close()
	if linkResp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign permission status %d", linkResp.StatusCode)
	}

	var accounts struct {
		Accounts []struct {
			Account rbac.Account `json:"account"`
		} `json:"accounts"`
	}
	listResp := api.get("/v1/admin/accounts", authHeaders(adminTok))
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list accounts status %d", listResp.StatusCode)
	}
	api.decode(listResp, &accounts)
	var userID string
	for _, a := range accounts.Accounts {
		if a.Account.Email == "user@example.com" {
			userID = a.Account.ID
		}
	}
	if userID == "" {
		t.Fatal("user account not listed")
	}

	grantResp := api.do(http.MethodPut, "/v1/admin/accounts/"+userID+"/roles/"+role.ID, nil, authHeaders(adminTok))
	grantResp.Body.Close()
	if grantResp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign role status %d", grantResp.StatusCode)
	}

	resp = api.get("/v1/user/dashboard", authHeaders(userTok))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user with grant must pass the gate, got %d", resp.StatusCode)
	}
}

func TestRBACRoutesRequireAdmin(t *testing.T) {
	api := newTestAPI(t)

	api.login("google", "g-1", "admin@example.com")
	userTok := api.login("google", "g-2", "user@example.com")

	resp := api.post("/v1/rbac/roles", map[string]any{"name": "X"}, authHeaders(userTok))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestOperationsCatalog(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/rbac/operations", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Operations []string `json:"operations"`
	}
	api.decode(resp, &payload)
	if len(payload.Operations) != 4 {
		t.Fatalf("expected 4 operations, got %v", payload.Operations)
	}
}

func TestProfileShowsCluster(t *testing.T) {
	api := newTestAPI(t)

	api.login("google", "g-0", "seed@example.com")
	tok := api.login("google", "g-1", "multi@example.com")
	// same email through another provider joins the cluster
	api.login("github", "gh-1", "multi@example.com")

	resp := api.get("/v1/user/profile", authHeaders(tok))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status %d", resp.StatusCode)
	}
	var payload struct {
		Email    string `json:"email"`
		Accounts []struct {
			Account rbac.Account `json:"account"`
			Roles   []string     `json:"roles"`
		} `json:"accounts"`
	}
	api.decode(resp, &payload)
	if payload.Email != "multi@example.com" {
		t.Fatalf("unexpected email %s", payload.Email)
	}
	if len(payload.Accounts) != 2 {
		t.Fatalf("expected 2 cluster accounts, got %d", len(payload.Accounts))
	}
}

func TestLoginSharedSecret(t *testing.T) {
	api := newTestAPIWithOptions(t, Options{
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		LoginSecret:    "callback-secret",
	})

	body := map[string]any{
		"provider":   "google",
		"attributes": map[string]any{"sub": "g-1", "email": "alice@example.com"},
	}

	resp := api.post("/v1/auth/login", body, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without login secret, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/login", body, map[string]string{"X-Login-Secret": "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong login secret, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/login", body, map[string]string{"X-Login-Secret": "callback-secret"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with login secret, got %d", resp.StatusCode)
	}
}
