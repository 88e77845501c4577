package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"chatgate/pkg/config"
	"chatgate/pkg/provider"
)

var openAIRoles = map[Role]string{
	RoleUser:      openai.ChatMessageRoleUser,
	RoleAssistant: openai.ChatMessageRoleAssistant,
}

// openAICompatUpstream talks to any OpenAI-compatible endpoint (Ollama,
// llama.cpp, vLLM, hosted gateways) through the official client shape.
type openAICompatUpstream struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

func newOpenAICompatUpstream(cfg config.GatewayConfig, client *http.Client, logger zerolog.Logger) *openAICompatUpstream {
	return &openAICompatUpstream{
		baseURL: cfg.OpenAICompat.BaseURL,
		apiKey:  cfg.OpenAICompat.APIKey,
		client:  client,
		logger:  logger,
	}
}

func (o *openAICompatUpstream) mapRole(r Role) string {
	if mapped, ok := openAIRoles[r]; ok {
		return mapped
	}
	return openai.ChatMessageRoleUser
}

func (o *openAICompatUpstream) generate(ctx context.Context, c call) (string, error) {
	if o.baseURL == "" {
		return "", fmt.Errorf("%w: openai-compatible base url", ErrMissingCredential)
	}
	clientCfg := openai.DefaultConfig(o.apiKey)
	clientCfg.BaseURL = o.baseURL
	clientCfg.HTTPClient = o.client
	cli := openai.NewClientWithConfig(clientCfg)

	if c.image != nil {
		// Plain chat completions carry text only.
		o.logger.Debug().Str("model", c.model).Msg("dropping image attachment for openai-compatible upstream")
	}

	resp, err := cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: o.mapRole(c.role), Content: c.text},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &UpstreamError{Provider: string(provider.OpenAICompat), Message: apiErr.Message}
		}
		return "", fmt.Errorf("openai-compatible request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion has no choices", ErrMalformedUpstream)
	}
	return resp.Choices[0].Message.Content, nil
}
