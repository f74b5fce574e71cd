package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/keys"
	"github.com/MrEthical07/cmsauth/metrics/export/prometheus"
	"github.com/MrEthical07/cmsauth/middleware"
	"github.com/MrEthical07/cmsauth/ratelimit"
	"github.com/MrEthical07/cmsauth/role"
	"github.com/MrEthical07/cmsauth/userstore"
)

const goodPassword = "Correct-Horse-9"

type harness struct {
	t     *testing.T
	h     http.Handler
	svc   *cmsauth.Service
	users *userstore.Memory
}

func newHarness(t *testing.T, mutate ...func(*cmsauth.Config)) *harness {
	t.Helper()
	cfg := cmsauth.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.CleanupIntervalSecs = 0
	for _, m := range mutate {
		m(&cfg)
	}

	mgr, err := keys.Open(context.Background(), keys.Config{Store: keys.NewMemoryStore()})
	if err != nil {
		t.Fatalf("keys.Open: %v", err)
	}
	users := userstore.NewMemory()
	svc, err := cmsauth.New().WithConfig(cfg).WithKeys(mgr).WithUserStore(users).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	ipWindow, err := ratelimit.NewFixedWindow(ratelimit.Config{Name: "ip", Limit: 1000, Window: time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}
	failWindow, err := ratelimit.NewFixedWindow(ratelimit.Config{Name: "api_key_fail", Limit: 3, Window: time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}
	metricsHandler, err := prometheus.Handler(svc)
	if err != nil {
		t.Fatal(err)
	}

	h := NewRouter(Deps{
		Service:        svc,
		IPLimiter:      ratelimit.NewIPLimiter(ipWindow),
		APIKeyFailures: ratelimit.NewAPIKeyFailureLimiter(failWindow, false),
		MetricsHandler: metricsHandler,
	})
	return &harness{t: t, h: h, svc: svc, users: users}
}

type call struct {
	method  string
	path    string
	body    any
	bearer  string
	headers map[string]string
	cookies []*http.Cookie
}

func (h *harness) do(c call) *httptest.ResponseRecorder {
	h.t.Helper()
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			h.t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) cmsauth.AuthResponse {
	t.Helper()
	var resp cmsauth.AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode auth response: %v", err)
	}
	return resp
}

func (h *harness) registerAndLogin(username string) cmsauth.AuthResponse {
	h.t.Helper()
	rec := h.do(call{method: http.MethodPost, path: "/auth/register", body: cmsauth.Registration{
		Username: username, Email: username + "@example.com", Password: goodPassword,
	}})
	if rec.Code != http.StatusCreated {
		h.t.Fatalf("register %s: status %d %s", username, rec.Code, rec.Body)
	}
	return h.login(username)
}

func (h *harness) login(identifier string) cmsauth.AuthResponse {
	h.t.Helper()
	rec := h.do(call{method: http.MethodPost, path: "/auth/login", body: cmsauth.Credentials{Identifier: identifier, Password: goodPassword}})
	if rec.Code != http.StatusOK {
		h.t.Fatalf("login %s: status %d %s", identifier, rec.Code, rec.Body)
	}
	return decodeAuth(h.t, rec)
}

func (h *harness) promote(t *testing.T, username string, r role.Role) {
	t.Helper()
	u, err := h.users.ByIdentifier(context.Background(), username)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.users.SetRole(context.Background(), u.ID, r); err != nil {
		t.Fatal(err)
	}
}

func TestSessionFlow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(call{method: http.MethodPost, path: "/auth/register", body: cmsauth.Registration{
		Username: "alice", Email: "alice@example.com", Password: goodPassword,
	}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body)
	}
	reg := decodeAuth(t, rec)
	if !reg.Success || reg.Tokens.AccessToken.Token == "" || reg.Tokens.RefreshToken.Token == "" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	rec = h.do(call{method: http.MethodPost, path: "/auth/login", body: cmsauth.Credentials{Identifier: "alice@example.com", Password: goodPassword}})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != refreshCookie || !cookies[0].HttpOnly {
		t.Fatalf("refresh cookie not set: %+v", cookies)
	}
	login := decodeAuth(t, rec)

	rec = h.do(call{method: http.MethodGet, path: "/auth/me", bearer: login.Tokens.AccessToken.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("me: %d", rec.Code)
	}
	var me meResponse
	if err := json.NewDecoder(rec.Body).Decode(&me); err != nil {
		t.Fatal(err)
	}
	if me.Role != role.Subscriber || me.Subject == "" {
		t.Fatalf("me = %+v", me)
	}

	// Refresh from the cookie, then present the spent token again.
	rec = h.do(call{method: http.MethodPost, path: "/auth/refresh", cookies: cookies})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh via cookie: %d %s", rec.Code, rec.Body)
	}
	rotated := decodeAuth(t, rec)
	if rotated.Tokens.RefreshToken.Token == login.Tokens.RefreshToken.Token {
		t.Fatal("refresh token not rotated")
	}
	rec = h.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: login.Tokens.RefreshToken.Token}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh: %d", rec.Code)
	}

	rec = h.do(call{method: http.MethodPost, path: "/auth/logout", bearer: rotated.Tokens.AccessToken.Token})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rec.Code)
	}
	rec = h.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: rotated.Tokens.RefreshToken.Token}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: %d", rec.Code)
	}

	if rec := h.do(call{method: http.MethodPost, path: "/auth/refresh"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh without token: %d", rec.Code)
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin("bob")

	unknown := h.do(call{method: http.MethodPost, path: "/auth/login", body: cmsauth.Credentials{Identifier: "nobody", Password: goodPassword}})
	wrong := h.do(call{method: http.MethodPost, path: "/auth/login", body: cmsauth.Credentials{Identifier: "bob", Password: "Wrong-Horse-1"}})
	if unknown.Code != http.StatusUnauthorized || wrong.Code != http.StatusUnauthorized {
		t.Fatalf("statuses %d, %d", unknown.Code, wrong.Code)
	}
	if unknown.Body.String() != wrong.Body.String() {
		t.Fatalf("bodies differ: %q vs %q", unknown.Body, wrong.Body)
	}
}

func TestRegisterErrors(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin("carol")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate", cmsauth.Registration{Username: "carol", Password: goodPassword}, http.StatusConflict},
		{"weak password", cmsauth.Registration{Username: "dave", Password: "short"}, http.StatusBadRequest},
		{"bad username", cmsauth.Registration{Username: "a b", Password: goodPassword}, http.StatusBadRequest},
		{"unknown field", map[string]string{"username": "erin", "password": goodPassword, "role": "admin"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(call{method: http.MethodPost, path: "/auth/register", body: tt.body})
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, func(c *cmsauth.Config) { c.Security.LoginMaxAttempts = 2 })
	h.registerAndLogin("frank")

	bad := cmsauth.Credentials{Identifier: "frank", Password: "Wrong-Horse-1"}
	for i := 0; i < 2; i++ {
		if rec := h.do(call{method: http.MethodPost, path: "/auth/login", body: bad}); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: %d", i+1, rec.Code)
		}
	}
	rec := h.do(call{method: http.MethodPost, path: "/auth/login", body: bad})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}
}

func TestAPIKeys(t *testing.T) {
	h := newHarness(t)
	sub := h.registerAndLogin("gina")

	rec := h.do(call{method: http.MethodPost, path: "/api-keys", bearer: sub.Tokens.AccessToken.Token, body: createAPIKeyRequest{Name: "ci"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("subscriber created key: %d", rec.Code)
	}

	h.promote(t, "gina", role.Author)
	author := h.login("gina")
	rec = h.do(call{method: http.MethodPost, path: "/api-keys", bearer: author.Tokens.AccessToken.Token, body: createAPIKeyRequest{Name: "ci", TTLSecs: 3600}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create key: %d %s", rec.Code, rec.Body)
	}
	var created createAPIKeyResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.Key, "ak_") || created.ExpiresAt == nil {
		t.Fatalf("created = %+v", created)
	}

	rec = h.do(call{method: http.MethodGet, path: "/api/whoami", headers: map[string]string{middleware.APIKeyHeader: created.Key}})
	if rec.Code != http.StatusOK {
		t.Fatalf("whoami: %d", rec.Code)
	}
	var p cmsauth.APIKeyPrincipal
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.KeyID != created.ID || p.Role != role.Author {
		t.Fatalf("principal = %+v", p)
	}

	wrong := map[string]string{middleware.APIKeyHeader: created.Key + "x"}
	for i := 0; i < 3; i++ {
		if rec := h.do(call{method: http.MethodGet, path: "/api/whoami", headers: wrong}); rec.Code != http.StatusUnauthorized {
			t.Fatalf("wrong key attempt %d: %d", i+1, rec.Code)
		}
	}
	if rec := h.do(call{method: http.MethodGet, path: "/api/whoami", headers: wrong}); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("blocked key: %d", rec.Code)
	}
}

func TestAdminRotate(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin("hana")

	h.promote(t, "hana", role.Admin)
	admin := h.login("hana")
	if rec := h.do(call{method: http.MethodPost, path: "/admin/keys/rotate", bearer: admin.Tokens.AccessToken.Token}); rec.Code != http.StatusForbidden {
		t.Fatalf("admin rotated keys: %d", rec.Code)
	}

	h.promote(t, "hana", role.SuperAdmin)
	root := h.login("hana")
	rec := h.do(call{method: http.MethodPost, path: "/admin/keys/rotate", bearer: root.Tokens.AccessToken.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate: %d %s", rec.Code, rec.Body)
	}
	var rotated rotateResponse
	if err := json.NewDecoder(rec.Body).Decode(&rotated); err != nil {
		t.Fatal(err)
	}
	if rotated.Version != 2 || rotated.Fingerprint == "" {
		t.Fatalf("rotated = %+v", rotated)
	}

	rec = h.do(call{method: http.MethodGet, path: "/admin/security", bearer: root.Tokens.AccessToken.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("security report: %d", rec.Code)
	}
	var report cmsauth.SecurityReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.CurrentKeyVersion != 2 {
		t.Fatalf("report key version = %d", report.CurrentKeyVersion)
	}

	// Tokens signed before the rotation still verify.
	if rec := h.do(call{method: http.MethodGet, path: "/auth/me", bearer: root.Tokens.AccessToken.Token}); rec.Code != http.StatusOK {
		t.Fatalf("pre-rotation token: %d", rec.Code)
	}
}

func TestAttenuate(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin("ivan")
	h.promote(t, "ivan", role.Editor)
	editor := h.login("ivan")

	rec := h.do(call{method: http.MethodPost, path: "/auth/attenuate", bearer: editor.Tokens.AccessToken.Token, body: map[string]string{"role": "author"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("attenuate: %d %s", rec.Code, rec.Body)
	}
	var narrowed cmsauth.IssuedToken
	if err := json.NewDecoder(rec.Body).Decode(&narrowed); err != nil {
		t.Fatal(err)
	}
	rec = h.do(call{method: http.MethodGet, path: "/auth/me", bearer: narrowed.Token})
	var me meResponse
	if err := json.NewDecoder(rec.Body).Decode(&me); err != nil {
		t.Fatal(err)
	}
	if me.Role != role.Author {
		t.Fatalf("narrowed role = %v", me.Role)
	}

	rec = h.do(call{method: http.MethodPost, path: "/auth/attenuate", bearer: editor.Tokens.AccessToken.Token, body: map[string]string{"role": "admin"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("widening: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin("jill")

	rec := h.do(call{method: http.MethodGet, path: "/metrics"})
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cmsauth_login_success_total 1") {
		t.Fatalf("login counter missing:\n%s", rec.Body)
	}

	if rec := h.do(call{method: http.MethodGet, path: "/healthz"}); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}
