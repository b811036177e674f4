package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"fusionbot/pkg/config"
	providertypes "fusionbot/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const providerName = "openai"

type Client struct {
	client         osdk.Client
	requestTimeout time.Duration
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Providers.OpenAI
	apiKey := resolveAPIKey(providerCfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}
	// The pipeline never retries; a failed call degrades to a fallback instead.
	opts = append(opts, option.WithMaxRetries(0))

	requestTimeout := time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		requestTimeout: requestTimeout,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

// Complete sends the transcript as one Chat Completions request and returns
// the first choice's text.
func (c *Client) Complete(ctx context.Context, model string, messages []providertypes.Message) (providertypes.Completion, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "complete")
	startedAt := time.Now()

	normalizedModel, err := normalizeModel(model)
	if err != nil {
		return providertypes.Completion{}, err
	}
	if providertypes.LastUserIndex(messages) < 0 {
		return providertypes.Completion{}, errors.New("at least one user message is required")
	}

	log.Debug("provider request started",
		"model", normalizedModel,
		"message_count", len(messages),
	)

	resp, err := c.client.Chat.Completions.New(ctx, osdk.ChatCompletionNewParams{
		Model:    normalizedModel,
		Messages: convertMessages(messages),
	})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Completion{}, fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no choices")
		return providertypes.Completion{}, errors.New("completion returned no choices")
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return providertypes.Completion{}, errors.New("completion succeeded but returned no text")
	}
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"response_length", len(text),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	metadata := providertypes.CompletionMetadata{
		Provider:     providerName,
		Model:        normalizedModel,
		FinishReason: string(choice.FinishReason),
	}
	usage := providertypes.TokenUsage{
		InputTokens:     resp.Usage.PromptTokens,
		OutputTokens:    resp.Usage.CompletionTokens,
		TotalTokens:     resp.Usage.TotalTokens,
		ReasoningTokens: resp.Usage.CompletionTokensDetails.ReasoningTokens,
		CacheReadTokens: resp.Usage.PromptTokensDetails.CachedTokens,
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.Completion{Text: text, Metadata: metadata}, nil
}

func convertMessages(messages []providertypes.Message) []osdk.ChatCompletionMessageParamUnion {
	result := make([]osdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case providertypes.RoleSystem:
			result = append(result, osdk.SystemMessage(msg.Content))
		case providertypes.RoleAssistant:
			result = append(result, osdk.AssistantMessage(msg.Content))
		default:
			result = append(result, osdk.UserMessage(msg.Content))
		}
	}

	return result
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	// Fine-tuned model ids contain colons but never a provider prefix.
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != providerName {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}

	return modelID, nil
}
