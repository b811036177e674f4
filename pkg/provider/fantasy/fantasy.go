package fantasy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"fusionbot/pkg/config"
	providertypes "fusionbot/pkg/provider/types"
)

const providerName = "fantasy"

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Client runs completions through a fantasy agent backed by the OpenAI provider.
type Client struct {
	provider       languageModelProvider
	requestTimeout time.Duration
	healthModel    string
	generate       func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

func New(cfg *config.Config) (*Client, error) {
	apiKey := resolveAPIKey(cfg.Providers.OpenAI)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.Providers.OpenAI.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Providers.OpenAI.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Providers.OpenAI.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	return &Client{
		provider:       fantasyProvider,
		requestTimeout: time.Duration(cfg.Providers.OpenAI.RequestTimeoutSeconds) * time.Second,
		healthModel:    strings.TrimSpace(cfg.Pipeline.SynthesisModel),
		generate:       generateWithFantasyAgent,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	modelID, err := normalizeOpenAIModel(c.healthModel)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if _, err := c.provider.LanguageModel(ctx, modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

// Complete maps the transcript onto one agent call: the last user turn is the
// prompt, earlier turns are history. Empty system turns are dropped.
func (c *Client) Complete(ctx context.Context, model string, messages []providertypes.Message) (providertypes.Completion, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	modelID, err := normalizeOpenAIModel(model)
	if err != nil {
		return providertypes.Completion{}, err
	}

	promptIndex := providertypes.LastUserIndex(messages)
	if promptIndex < 0 {
		return providertypes.Completion{}, errors.New("at least one user message is required")
	}

	languageModel, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		return providertypes.Completion{}, fmt.Errorf("resolve language model: %w", err)
	}

	call := core.AgentCall{
		Prompt:   messages[promptIndex].Content,
		Messages: convertHistory(messages[:promptIndex]),
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	result, err := generate(ctx, languageModel, call)
	if err != nil {
		return providertypes.Completion{}, fmt.Errorf("completion failed: %w", err)
	}

	response := extractText(result.Response.Content)
	if response == "" {
		return providertypes.Completion{}, errors.New("completion succeeded but returned no text")
	}

	metadata := providertypes.CompletionMetadata{
		Provider:     providerName,
		Model:        modelID,
		FinishReason: string(result.Response.FinishReason),
	}
	usage := providertypes.TokenUsage{
		InputTokens:     result.TotalUsage.InputTokens,
		OutputTokens:    result.TotalUsage.OutputTokens,
		TotalTokens:     result.TotalUsage.TotalTokens,
		ReasoningTokens: result.TotalUsage.ReasoningTokens,
		CacheReadTokens: result.TotalUsage.CacheReadTokens,
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.Completion{Text: response, Metadata: metadata}, nil
}

func convertHistory(messages []providertypes.Message) []core.Message {
	history := make([]core.Message, 0, len(messages))
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}

		switch msg.Role {
		case providertypes.RoleSystem:
			history = append(history, core.Message{
				Role:    core.MessageRoleSystem,
				Content: []core.MessagePart{core.TextPart{Text: text}},
			})
		case providertypes.RoleAssistant:
			history = append(history, core.Message{
				Role:    core.MessageRoleAssistant,
				Content: []core.MessagePart{core.TextPart{Text: text}},
			})
		default:
			history = append(history, core.NewUserMessage(text))
		}
	}

	return history
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

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	runtime := core.NewAgent(model)
	return runtime.Generate(ctx, call)
}
