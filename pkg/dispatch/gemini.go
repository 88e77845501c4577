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

// googleRoles maps gateway roles onto the Gemini role vocabulary, which
// calls model-authored turns "model".
var googleRoles = map[Role]string{
	RoleUser:      "user",
	RoleAssistant: "model",
}

type googleUpstream struct {
	baseURL   string
	proxyBase string
	client    *http.Client
}

func newGoogleUpstream(cfg config.GatewayConfig, client *http.Client) *googleUpstream {
	return &googleUpstream{
		baseURL:   cfg.Gemini.BaseURL,
		proxyBase: cfg.AIProxy,
		client:    client,
	}
}

func (g *googleUpstream) mapRole(r Role) string {
	if mapped, ok := googleRoles[r]; ok {
		return mapped
	}
	return string(RoleUser)
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *googleUpstream) buildRequest(ctx context.Context, c call) (*http.Request, error) {
	key := strings.TrimSpace(c.creds.GeminiKey)
	if key == "" {
		return nil, fmt.Errorf("%w: gemini api key", ErrMissingCredential)
	}
	content := geminiContent{
		Role:  g.mapRole(c.role),
		Parts: []geminiPart{{Text: c.text}},
	}
	content.Parts = g.embedImage(content.Parts, c.image)

	body, err := json.Marshal(map[string]any{"contents": []geminiContent{content}})
	if err != nil {
		return nil, fmt.Errorf("encode gemini body: %w", err)
	}
	target := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(c.model), url.QueryEscape(key))
	target = provider.RewriteThroughProxy(g.proxyBase, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// embedImage appends the attachment as a typed inline-binary part next to
// the text part, which is how Gemini accepts images.
func (g *googleUpstream) embedImage(parts []geminiPart, img *InlineImage) []geminiPart {
	if img == nil {
		return parts
	}
	return append(parts, geminiPart{
		InlineData: &geminiInlineData{MIMEType: img.MIMEType, Data: img.Data},
	})
}

func (g *googleUpstream) extractContent(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode gemini response: %v", ErrMalformedUpstream, err)
	}
	if resp.Error != nil {
		return "", &UpstreamError{Provider: string(provider.Google), Message: resp.Error.Message}
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: gemini response has no candidates", ErrMalformedUpstream)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (g *googleUpstream) generate(ctx context.Context, c call) (string, error) {
	req, err := g.buildRequest(ctx, c)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}
	// Gemini reports errors in the body for both error and success
	// statuses; extractContent surfaces them verbatim either way.
	content, err := g.extractContent(body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{
			Provider: string(provider.Google),
			Message:  fmt.Sprintf("gemini status %d", resp.StatusCode),
		}
	}
	return content, nil
}
