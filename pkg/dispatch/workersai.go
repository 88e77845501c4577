package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"chatgate/pkg/config"
	"chatgate/pkg/provider"
)

// workersAIRoles: Workers AI follows the OpenAI role vocabulary, so the
// mapping is the identity.
var workersAIRoles = map[Role]string{
	RoleUser:      "user",
	RoleAssistant: "assistant",
}

type workersAIUpstream struct {
	baseURL   string
	accountID string
	token     string
	client    *http.Client
}

func newWorkersAIUpstream(cfg config.GatewayConfig, client *http.Client) *workersAIUpstream {
	return &workersAIUpstream{
		baseURL:   cfg.WorkersAI.BaseURL,
		accountID: cfg.WorkersAI.AccountID,
		token:     cfg.WorkersAI.APIToken,
		client:    client,
	}
}

func (w *workersAIUpstream) mapRole(r Role) string {
	if mapped, ok := workersAIRoles[r]; ok {
		return mapped
	}
	return string(RoleUser)
}

type workersAIResponse struct {
	Result *struct {
		Response string `json:"response"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (w *workersAIUpstream) buildRequest(ctx context.Context, c call) (*http.Request, error) {
	if w.accountID == "" || w.token == "" {
		return nil, fmt.Errorf("%w: workers ai account or token", ErrMissingCredential)
	}
	// Workers AI text models take no image part; attachments are dropped.
	body, err := json.Marshal(map[string]any{
		"messages": []map[string]string{{"role": w.mapRole(c.role), "content": c.text}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode workers ai body: %w", err)
	}
	target := fmt.Sprintf("%s/client/v4/accounts/%s/ai/run/%s",
		w.baseURL, url.PathEscape(w.accountID), escapeModelPath(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)
	return req, nil
}

// escapeModelPath escapes each segment of a Workers AI model id
// ("@cf/meta/llama-3.1-8b-instruct") while keeping its slashes.
func escapeModelPath(model string) string {
	segments := strings.Split(model, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (w *workersAIUpstream) extractContent(body []byte) (string, error) {
	var resp workersAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode workers ai response: %v", ErrMalformedUpstream, err)
	}
	if len(resp.Errors) > 0 {
		return "", &UpstreamError{Provider: string(provider.WorkersAI), Message: resp.Errors[0].Message}
	}
	if !resp.Success || resp.Result == nil {
		return "", fmt.Errorf("%w: workers ai response has no result", ErrMalformedUpstream)
	}
	return resp.Result.Response, nil
}

func (w *workersAIUpstream) generate(ctx context.Context, c call) (string, error) {
	req, err := w.buildRequest(ctx, c)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("workers ai request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read workers ai response: %w", err)
	}
	content, err := w.extractContent(body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{
			Provider: string(provider.WorkersAI),
			Message:  fmt.Sprintf("workers ai status %d", resp.StatusCode),
		}
	}
	return content, nil
}
