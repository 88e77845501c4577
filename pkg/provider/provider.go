package provider

import (
	"fmt"
	"net/url"
	"strings"
)

// Provider identifies which upstream family serves a model.
type Provider string

const (
	// WorkersAI is the self-hosted inference platform (Cloudflare Workers AI).
	WorkersAI Provider = "workers-ai"
	// Google is the Gemini generative-language API.
	Google Provider = "google"
	// OpenAICompat is any chat-completions compatible endpoint.
	OpenAICompat Provider = "openai-compat"
)

// ModelDescriptor is one entry of the advertised model catalog. Field names
// follow the JSON contract the chat UI consumes.
type ModelDescriptor struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"name"`
	Provider      Provider `json:"provider"`
	SupportsImage bool     `json:"supportsImage"`
	Tag           string   `json:"tag,omitempty"`
}

// FromTag maps the loosely-typed provider tag clients send to a Provider.
// The UI historically sent "Google" and "Cloudflare"; newer clients send the
// canonical values.
func FromTag(tag string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "google", "gemini":
		return Google, nil
	case "cloudflare", "workers-ai", "cf":
		return WorkersAI, nil
	case "openai", "openai-compat", "openai-compatible":
		return OpenAICompat, nil
	default:
		return "", fmt.Errorf("unknown provider %q", tag)
	}
}

// NormalizeModelID strips the "models/" prefix the Gemini listing API puts in
// front of its identifiers.
func NormalizeModelID(model string) string {
	model = strings.TrimSpace(model)
	return strings.TrimPrefix(model, "models/")
}

// RewriteThroughProxy rewrites target so it is reached through proxyBase,
// keeping the original path and query. An empty proxyBase returns target
// unchanged.
func RewriteThroughProxy(proxyBase, target string) string {
	proxyBase = strings.TrimRight(strings.TrimSpace(proxyBase), "/")
	if proxyBase == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	out := proxyBase + u.Path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}
