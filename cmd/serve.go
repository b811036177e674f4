package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fusionbot/pkg/config"
	"fusionbot/pkg/gateway"
	"fusionbot/pkg/logger"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Slack events webhook",
	Long:  "Serves the Slack Events API webhook with health, readiness and metrics endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		if err := cfg.Validate(); err != nil {
			log.Error("Configuration invalid", "error", err)
			return err
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(runCtx, cfg, appLogger, true)
		if err != nil {
			log.Error("Failed to wire pipeline", "error", err)
			return err
		}
		defer st.events.Close()

		svc, err := gateway.NewService(cfg, st.pipeline, st.provider, st.events, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway starting",
			"provider", cfg.Providers.Default,
			"candidate_model", cfg.Pipeline.CandidateModel,
			"synthesis_model", cfg.Pipeline.SynthesisModel,
			"knowledge_base", cfg.Knowledge.KnowledgeBaseID,
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("Gateway runtime failed", "error", err)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
