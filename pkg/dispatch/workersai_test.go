package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatgate/pkg/config"
)

func workersAITestConfig(base string) config.GatewayConfig {
	return config.GatewayConfig{
		RequestTimeoutSeconds: 5,
		WorkersAI: config.WorkersAIConfig{
			BaseURL:   base,
			AccountID: "acct-1",
			APIToken:  "tok-1",
		},
	}
}

func TestWorkersAISuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody struct {
		Messages []map[string]string `json:"messages"`
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"result":{"response":"hello there"},"success":true,"errors":[]}`))
	}))
	defer upstream.Close()

	d := testDispatcher(workersAITestConfig(upstream.URL))
	out, err := d.Dispatch(context.Background(), ChatRequest{
		Model:    "@cf/meta/llama-3.1-8b-instruct",
		Provider: "cloudflare",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, Credentials{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("expected upstream response text, got %q", out)
	}
	if gotPath != "/client/v4/accounts/acct-1/ai/run/@cf/meta/llama-3.1-8b-instruct" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("expected bearer token header, got %q", gotAuth)
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0]["role"] != "user" || gotBody.Messages[0]["content"] != "hi" {
		t.Fatalf("unexpected request body %+v", gotBody.Messages)
	}
}

func TestWorkersAIErrorEnvelopeIsVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"result":null,"success":false,"errors":[{"message":"7000: No route for that URI"}]}`))
	}))
	defer upstream.Close()

	d := testDispatcher(workersAITestConfig(upstream.URL))
	_, err := d.Dispatch(context.Background(), ChatRequest{
		Model:    "@cf/meta/llama-3.1-8b-instruct",
		Provider: "workers-ai",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, Credentials{})

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.Error() != "7000: No route for that URI" {
		t.Fatalf("expected verbatim error message, got %q", upErr.Error())
	}
}

func TestWorkersAIMissingResult(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"errors":[]}`))
	}))
	defer upstream.Close()

	d := testDispatcher(workersAITestConfig(upstream.URL))
	_, err := d.Dispatch(context.Background(), ChatRequest{
		Model:    "@cf/meta/llama-3.1-8b-instruct",
		Provider: "cf",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, Credentials{})
	if !errors.Is(err, ErrMalformedUpstream) {
		t.Fatalf("expected ErrMalformedUpstream, got %v", err)
	}
}

func TestWorkersAIMissingCredentials(t *testing.T) {
	cfg := workersAITestConfig("http://unused.invalid")
	cfg.WorkersAI.APIToken = ""
	d := testDispatcher(cfg)
	_, err := d.Dispatch(context.Background(), ChatRequest{
		Model:    "@cf/meta/llama-3.1-8b-instruct",
		Provider: "cloudflare",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, Credentials{})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}
