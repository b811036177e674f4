package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fusionbot/pkg/config"
	providerfantasy "fusionbot/pkg/provider/fantasy"
	provideropenai "fusionbot/pkg/provider/openai"
	providertypes "fusionbot/pkg/provider/types"
)

// Client is a chat-completion backend. Every call is an independent request;
// no conversation state is kept between calls.
type Client interface {
	Health(ctx context.Context) error
	Complete(ctx context.Context, model string, messages []providertypes.Message) (providertypes.Completion, error)
}

func New(cfg *config.Config) (Client, error) {
	providerID := strings.TrimSpace(cfg.Providers.Default)
	if providerID == "" {
		providerID = "openai"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "openai":
		return provideropenai.New(cfg)
	case "fantasy":
		return providerfantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
