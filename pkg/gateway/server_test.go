package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"chatgate/pkg/config"
	"chatgate/pkg/ledger"
)

func newTestServer(t *testing.T, mutate func(cfg *config.GatewayConfig)) (*Server, *ledger.Store) {
	t.Helper()
	cfg := config.NewDefaultGatewayConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	cfg.RequestTimeoutSeconds = 5
	if mutate != nil {
		mutate(cfg)
	}
	store, err := ledger.Open(context.Background(), cfg.DatabasePath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	s, err := NewServer(cfg, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, store
}

func doJSON(t *testing.T, s *Server, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s response: %v body=%s", method, path, err, w.Body.String())
		}
	}
	return w, decoded
}

func geminiStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"` + reply + `"}]}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const chatBody = `{"model":"gemini-2.0-flash","provider":"Google","messages":[{"role":"user","content":"hi"}]}`

func TestChatSharedQuotaExhausts(t *testing.T) {
	upstream := geminiStub(t, "ok")
	s, _ := newTestServer(t, func(cfg *config.GatewayConfig) {
		cfg.DailyLimit = 2
		cfg.Gemini.APIKey = "shared-key"
		cfg.Gemini.BaseURL = upstream.URL
	})

	for i := 0; i < 2; i++ {
		w, body := doJSON(t, s, http.MethodPost, "/api/chat", chatBody, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d body=%s", i, w.Code, w.Body.String())
		}
		if body["content"] != "ok" {
			t.Fatalf("request %d: expected content, got %v", i, body)
		}
	}

	w, body := doJSON(t, s, http.MethodPost, "/api/chat", chatBody, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the budget is spent, got %d body=%s", w.Code, w.Body.String())
	}
	msg, ok := body["error"].(string)
	if !ok || msg == "" {
		t.Fatalf("expected error envelope, got %v", body)
	}
}

func TestChatBYOKBypassesQuota(t *testing.T) {
	upstream := geminiStub(t, "byok-ok")
	s, store := newTestServer(t, func(cfg *config.GatewayConfig) {
		cfg.DailyLimit = 0
		cfg.Gemini.BaseURL = upstream.URL
	})

	w, body := doJSON(t, s, http.MethodPost, "/api/chat", chatBody, map[string]string{
		"x-custom-api-key": "user-key",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with caller key, got %d body=%s", w.Code, w.Body.String())
	}
	if body["content"] != "byok-ok" {
		t.Fatalf("unexpected body %v", body)
	}

	count, err := store.Count(context.Background(), ledger.DayKey(s.now()))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected caller-keyed request to leave the ledger untouched, got count %d", count)
	}

	// The same request on the shared key must be rejected outright.
	w, _ = doJSON(t, s, http.MethodPost, "/api/chat", chatBody, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on shared key with zero budget, got %d", w.Code)
	}
}

func TestChatUpstreamErrorBecomes500(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	t.Cleanup(upstream.Close)

	s, _ := newTestServer(t, func(cfg *config.GatewayConfig) {
		cfg.Gemini.APIKey = "shared-key"
		cfg.Gemini.BaseURL = upstream.URL
	})

	w, body := doJSON(t, s, http.MethodPost, "/api/chat", chatBody, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for upstream failure, got %d", w.Code)
	}
	if body["error"] != "invalid key" {
		t.Fatalf("expected verbatim upstream message, got %v", body)
	}
}

func TestChatInvalidPayload(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w, body := doJSON(t, s, http.MethodPost, "/api/chat", `{"model":"","provider":"Google","messages":[]}`, map[string]string{
		"x-custom-api-key": "user-key",
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for invalid payload, got %d", w.Code)
	}
	if _, ok := body["error"].(string); !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type, x-custom-api-key")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK && w.Code != http.StatusNoContent {
		t.Fatalf("expected preflight success, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(strings.ToLower(got), "x-custom-api-key") {
		t.Fatalf("expected custom key header allowed, got %q", got)
	}
}

func TestModelsWithoutKeyServesCurated(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w, body := doJSON(t, s, http.MethodGet, "/api/models", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	models, ok := body["models"].([]any)
	if !ok || len(models) != 5 {
		t.Fatalf("expected the 5 curated models, got %v", body["models"])
	}

	_, more := doJSON(t, s, http.MethodGet, "/api/models?more=true", "", nil)
	extended, ok := more["models"].([]any)
	if !ok || len(extended) != 13 {
		t.Fatalf("expected extended catalog of 13, got %d", len(extended))
	}
}

func TestStatsReportsRemainingBudget(t *testing.T) {
	upstream := geminiStub(t, "ok")
	s, _ := newTestServer(t, func(cfg *config.GatewayConfig) {
		cfg.DailyLimit = 3
		cfg.Gemini.APIKey = "shared-key"
		cfg.Gemini.BaseURL = upstream.URL
	})

	if w, _ := doJSON(t, s, http.MethodPost, "/api/chat", chatBody, nil); w.Code != http.StatusOK {
		t.Fatalf("seed chat failed: %d", w.Code)
	}

	for _, path := range []string{"/api/stats", "/api/status"} {
		w, body := doJSON(t, s, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if body["functions"] != "online" || body["d1"] != "online" {
			t.Fatalf("%s: unexpected health fields %v", path, body)
		}
		if body["gemini"] != "online" {
			t.Fatalf("%s: expected gemini online with configured key, got %v", path, body["gemini"])
		}
		if body["cf_ai"] != "offline" {
			t.Fatalf("%s: expected cf_ai offline without credentials, got %v", path, body["cf_ai"])
		}
		if got := body["remaining_limit"].(float64); got != 2 {
			t.Fatalf("%s: expected remaining 2, got %v", path, got)
		}
	}
}

func TestSettingsRoundtrip(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w, body := doJSON(t, s, http.MethodGet, "/api/settings", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["heroText"] != defaultHeroText {
		t.Fatalf("expected default hero text before first save, got %v", body["heroText"])
	}

	w, body = doJSON(t, s, http.MethodPost, "/api/settings",
		`{"userId":"default","heroText":"welcome back","apiKey":"stored-key"}`, nil)
	if w.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("expected success envelope, got %d %v", w.Code, body)
	}

	_, body = doJSON(t, s, http.MethodGet, "/api/settings", "", nil)
	if body["heroText"] != "welcome back" || body["apiKey"] != "stored-key" {
		t.Fatalf("expected stored settings, got %v", body)
	}
}

func TestUnknownRouteIs404Envelope(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w, body := doJSON(t, s, http.MethodGet, "/api/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if body["error"] != "not found" {
		t.Fatalf("expected error envelope, got %v", body)
	}

	// Wrong method on a known route follows the same contract.
	w, _ = doJSON(t, s, http.MethodPost, "/api/models", "{}", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for wrong method, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected ok, got %d %q", w.Code, w.Body.String())
	}
}
