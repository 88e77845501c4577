// Package dispatch normalizes chat requests onto the upstream provider
// variants and maps their heterogeneous response envelopes back to a single
// text result.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatgate/pkg/config"
	"chatgate/pkg/provider"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the gateway's normalized chat call. Only the final
// message's content (and optional image) is forwarded upstream; full history
// replay is not part of the contract.
type ChatRequest struct {
	Model    string
	Provider string
	Messages []ChatMessage
	// Image is an optional data URL ("data:image/png;base64,....").
	Image string
}

// Credentials carries the per-request credential overrides resolved by the
// front controller. A client-supplied Gemini key takes precedence over the
// configured one.
type Credentials struct {
	GeminiKey string
}

// InlineImage is a decoded data-URL attachment.
type InlineImage struct {
	MIMEType string
	Data     string // base64 payload, still encoded
}

// call is the provider-facing view of one dispatch: the final message only.
type call struct {
	model string
	role  Role
	text  string
	image *InlineImage
	creds Credentials
}

// upstream is one provider variant. Each variant owns its request shape,
// role vocabulary, image embedding, and response extraction.
type upstream interface {
	generate(ctx context.Context, c call) (string, error)
}

type Dispatcher struct {
	table  map[provider.Provider]upstream
	logger zerolog.Logger
}

func New(cfg config.GatewayConfig, logger zerolog.Logger) *Dispatcher {
	logger = logger.With().Str("component", "dispatch").Logger()
	client := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second}
	return &Dispatcher{
		logger: logger,
		table: map[provider.Provider]upstream{
			provider.Google:       newGoogleUpstream(cfg, client),
			provider.WorkersAI:    newWorkersAIUpstream(cfg, client),
			provider.OpenAICompat: newOpenAICompatUpstream(cfg, client, logger),
		},
	}
}

// Dispatch performs a single upstream attempt and returns the reply text.
// No retries: retry policy belongs to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, req ChatRequest, creds Credentials) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}
	p, err := provider.FromTag(req.Provider)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	variant, ok := d.table[p]
	if !ok {
		return "", fmt.Errorf("%w: no dispatcher for provider %q", ErrInvalidRequest, p)
	}

	last := req.Messages[len(req.Messages)-1]
	c := call{
		model: strings.TrimSpace(req.Model),
		role:  last.Role,
		text:  last.Content,
		creds: creds,
	}
	if strings.TrimSpace(req.Image) != "" {
		img, err := parseInlineImage(req.Image)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		c.image = &img
	}

	content, err := variant.generate(ctx, c)
	if err != nil {
		d.logger.Debug().Err(err).Str("provider", string(p)).Str("model", c.model).Msg("dispatch failed")
		return "", err
	}
	return content, nil
}

// parseInlineImage splits a "data:<mime>;base64,<payload>" URL into its
// parts.
func parseInlineImage(dataURL string) (InlineImage, error) {
	dataURL = strings.TrimSpace(dataURL)
	meta, payload, ok := strings.Cut(dataURL, ",")
	if !ok || payload == "" {
		return InlineImage{}, fmt.Errorf("image must be a data URL")
	}
	meta = strings.TrimPrefix(meta, "data:")
	mime, _, _ := strings.Cut(meta, ";")
	mime = strings.TrimSpace(mime)
	if mime == "" || !strings.Contains(mime, "/") {
		return InlineImage{}, fmt.Errorf("image data URL has no media type")
	}
	return InlineImage{MIMEType: mime, Data: payload}, nil
}
