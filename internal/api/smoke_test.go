// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// These tests do NOT require a PostgreSQL database — they verify:
//   - Gin router routing and middleware wiring
//   - JWT auth middleware (401 without token, 401 with bad token)
//   - Request validation error responses (400)
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/api"
	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

const testSecret = "test-access-secret-abcdefghijklmnop"

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		JWT: config.JWTConfig{
			AccessSecret: testSecret,
		},
	}
}

// buildTestRouter creates a Gin engine with a nil staking service: routes that
// never reach a handler body (auth rejections, validation failures) need no
// backing services.
func buildTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return api.SetupRouter(api.RouterDeps{
		StakingSvc: nil,
		Cfg:        testCfg(),
	})
}

// mintToken signs an HS256 access token the way the upstream auth service does.
func mintToken(t *testing.T, tokenType string) string {
	t.Helper()
	claims := struct {
		jwt.RegisteredClaims
		Role      string `json:"role"`
		TokenType string `json:"type"`
	}{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
		},
		Role:      "user",
		TokenType: tokenType,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v — body: %s", err, rr.Body.String())
	}
	return m
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

// ── JWT middleware ────────────────────────────────────────────────────────────

func TestStakingRoutes_RequireAuth(t *testing.T) {
	h := buildTestRouter(t)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/staking/deposit"},
		{http.MethodPost, "/api/staking/claim"},
		{http.MethodPost, "/api/staking/withdraw"},
		{http.MethodGet, "/api/staking/position"},
		{http.MethodGet, "/api/staking/operations"},
		{http.MethodGet, "/api/admin/failed-settlements"},
	}
	for _, r := range routes {
		rr := do(t, h, r.method, r.path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", r.method, r.path, rr.Code)
		}
	}
}

func TestAuth_BadToken(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/staking/position", "", map[string]string{
		"Authorization": "Bearer not.a.jwt",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", rr.Code)
	}
}

func TestAuth_RefreshTokenRejected(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/staking/position", "", map[string]string{
		"Authorization": "Bearer " + mintToken(t, "refresh"),
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("refresh token on access route = %d, want 401", rr.Code)
	}
}

func TestAdminRoute_ForbiddenForUserRole(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/admin/failed-settlements", "", map[string]string{
		"Authorization": "Bearer " + mintToken(t, "access"),
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("user role on admin route = %d, want 403", rr.Code)
	}
}

// ── Validation layer ──────────────────────────────────────────────────────────

func TestDeposit_MissingFields(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/staking/deposit", `{}`, map[string]string{
		"Authorization": "Bearer " + mintToken(t, "access"),
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty deposit body = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("response.success should be false on error, got %v", body["success"])
	}
	if body["code"] == nil {
		t.Errorf("error envelope missing 'code', got: %v", body)
	}
}

func TestWithdraw_InvalidAmount(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"amount":"-5","fee_proof_ref":"ref"}`
	rr := do(t, h, http.MethodPost, "/api/staking/withdraw", payload, map[string]string{
		"Authorization": "Bearer " + mintToken(t, "access"),
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("negative amount = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["code"] != "ERR_INVALID_AMOUNT" {
		t.Errorf("code = %v, want ERR_INVALID_AMOUNT", body["code"])
	}
}

// ── CORS ──────────────────────────────────────────────────────────────────────

func TestCORSPreflight(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodOptions, "/api/staking/deposit", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	if rr.Code != http.StatusNoContent {
		t.Errorf("OPTIONS preflight = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin in dev = %q, want *", got)
	}
}
