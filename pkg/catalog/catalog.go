// Package catalog builds the list of models the gateway currently offers:
// a curated self-hosted set from configuration plus a filtered live listing
// from the Gemini API when a credential is available.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatgate/pkg/config"
	"chatgate/pkg/metrics"
	"chatgate/pkg/provider"
)

type Options struct {
	// IncludeExtended adds the longer curated tail to the result.
	IncludeExtended bool
}

type Resolver struct {
	cfg    config.GatewayConfig
	rules  config.FilterRules
	client *http.Client
	logger zerolog.Logger

	mu        sync.Mutex
	cached    []provider.ModelDescriptor
	cachedKey string
	cachedAt  time.Time
}

func NewResolver(cfg config.GatewayConfig, logger zerolog.Logger) (*Resolver, error) {
	rules, err := cfg.Catalog.CompilePatterns()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		cfg:    cfg,
		rules:  rules,
		client: &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second},
		logger: logger.With().Str("component", "catalog").Logger(),
	}, nil
}

// ListModels returns the currently offered catalog. The live Gemini portion
// is best effort: any upstream failure is logged and the curated set is
// returned on its own. geminiKey may be empty, in which case no outbound
// call is made.
func (r *Resolver) ListModels(ctx context.Context, geminiKey string, opts Options) []provider.ModelDescriptor {
	out := make([]provider.ModelDescriptor, 0, 16)
	if geminiKey != "" {
		live, err := r.liveGeminiModels(ctx, geminiKey)
		if err != nil {
			metrics.Global().CatalogUpstreamErrors.Inc()
			r.logger.Warn().Err(err).Msg("gemini model listing failed, serving curated catalog only")
		} else {
			out = append(out, live...)
		}
	}
	out = append(out, curatedDescriptors(r.cfg.Catalog.Curated)...)
	if opts.IncludeExtended {
		out = append(out, curatedDescriptors(r.cfg.Catalog.Extended)...)
	}
	return out
}

func curatedDescriptors(in []config.CuratedModel) []provider.ModelDescriptor {
	out := make([]provider.ModelDescriptor, 0, len(in))
	for _, m := range in {
		out = append(out, provider.ModelDescriptor{
			ID:            m.ID,
			DisplayName:   m.DisplayName,
			Provider:      provider.WorkersAI,
			SupportsImage: m.SupportsImage,
			Tag:           m.Tag,
		})
	}
	return out
}

type geminiListResponse struct {
	Models []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"models"`
}

func (r *Resolver) liveGeminiModels(ctx context.Context, key string) ([]provider.ModelDescriptor, error) {
	if cached, ok := r.cachedListing(key); ok {
		return cached, nil
	}
	target := fmt.Sprintf("%s/v1beta/models?key=%s", r.cfg.Gemini.BaseURL, url.QueryEscape(key))
	target = provider.RewriteThroughProxy(r.cfg.AIProxy, target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gemini listing status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var listing geminiListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode gemini listing: %w", err)
	}

	out := make([]provider.ModelDescriptor, 0, len(listing.Models))
	for _, m := range listing.Models {
		id := provider.NormalizeModelID(m.Name)
		if id == "" || !r.rules.Keep(id) {
			continue
		}
		name := strings.TrimSpace(m.DisplayName)
		if name == "" {
			name = id
		}
		out = append(out, provider.ModelDescriptor{
			ID:            id,
			DisplayName:   name,
			Provider:      provider.Google,
			SupportsImage: true,
			Tag:           r.cfg.Catalog.LiveTag,
		})
	}
	r.storeListing(key, out)
	return out, nil
}

// cachedListing serves a recent listing for the same credential when the
// deployer enabled the short-lived cache (catalog.cache_seconds > 0).
func (r *Resolver) cachedListing(key string) ([]provider.ModelDescriptor, bool) {
	ttl := time.Duration(r.cfg.Catalog.CacheSeconds) * time.Second
	if ttl <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cachedKey != key || time.Since(r.cachedAt) >= ttl {
		return nil, false
	}
	return append([]provider.ModelDescriptor(nil), r.cached...), true
}

func (r *Resolver) storeListing(key string, models []provider.ModelDescriptor) {
	if r.cfg.Catalog.CacheSeconds <= 0 {
		return
	}
	r.mu.Lock()
	r.cached = append([]provider.ModelDescriptor(nil), models...)
	r.cachedKey = key
	r.cachedAt = time.Now()
	r.mu.Unlock()
}
