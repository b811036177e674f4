package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"fusionbot/pkg/bus"
	"fusionbot/pkg/config"
	"fusionbot/pkg/knowledge"
	"fusionbot/pkg/pipeline"
	"fusionbot/pkg/provider"
	"fusionbot/pkg/slack"
)

// stack holds the wired collaborators shared by the serve and ask commands.
type stack struct {
	provider provider.Client
	pipeline *pipeline.Pipeline
	events   *bus.Bus
}

// buildStack wires the pipeline. withSlack adds the thread reader and
// publisher needed to answer in Slack.
func buildStack(ctx context.Context, cfg *config.Config, log *slog.Logger, withSlack bool) (*stack, error) {
	kb, err := knowledge.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize knowledge base: %w", err)
	}

	client, err := provider.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize provider: %w", err)
	}

	events := bus.New()
	deps := pipeline.Dependencies{
		Retriever: kb,
		Completer: client,
		Events:    events,
	}

	if withSlack {
		sc, err := slack.New(cfg, log)
		if err != nil {
			events.Close()
			return nil, fmt.Errorf("initialize slack client: %w", err)
		}
		deps.Threads = sc
		deps.Publisher = sc
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		events.Close()
		return nil, err
	}

	return &stack{provider: client, pipeline: p, events: events}, nil
}
