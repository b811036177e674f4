package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fusionbot",
	Short: "Slack question-answering bot backed by a knowledge base and model fusion",
	Long: `FusionBot answers Slack mentions by combining a knowledge base answer with
several model answers and fusing them into one reply with references.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
