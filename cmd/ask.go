/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"fusionbot/pkg/config"
	"fusionbot/pkg/knowledge"
	"fusionbot/pkg/logger"
	"fusionbot/pkg/pipeline"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var questionText string

// answerer is the part of the pipeline the ask command needs.
type answerer interface {
	Answer(ctx context.Context, req pipeline.Request) (pipeline.Reply, error)
}

var (
	promptStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	answerStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("230"))
	referenceTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	referenceStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	degradedStyle       = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("203"))
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the terminal",
	Long:  "Runs the fusion pipeline for one question, or starts an interactive loop, without posting to Slack.",
	RunE: func(cmd *cobra.Command, args []string) error {
		question := resolveQuestion(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.ValidatePipeline(); err != nil {
			return err
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)

		ctx := logger.WithContext(cmd.Context(), appLogger.With("component", "cmd.ask"))
		st, err := buildStack(ctx, cfg, appLogger, false)
		if err != nil {
			return err
		}
		defer st.events.Close()

		if err := st.provider.Health(ctx); err != nil {
			return fmt.Errorf("provider health check failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if question != "" {
			return askOnce(ctx, st.pipeline, out, question)
		}

		return runInteractive(ctx, st.pipeline, cmd.InOrStdin(), out)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&questionText, "question", "q", "", "question to answer")
}

func resolveQuestion(args []string) string {
	if value := strings.TrimSpace(questionText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func askOnce(ctx context.Context, a answerer, out io.Writer, question string) error {
	reply, err := a.Answer(ctx, pipeline.Request{Question: question})
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	printReply(out, reply)
	return nil
}

func runInteractive(ctx context.Context, a answerer, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, promptStyle.Render("? "))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("input error: %w", err)
			}
			return nil
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if isExitCommand(question) {
			return nil
		}

		if err := askOnce(ctx, a, out, question); err != nil {
			fmt.Fprintln(out, degradedStyle.Render(err.Error()))
		}
	}
}

func printReply(out io.Writer, reply pipeline.Reply) {
	for _, line := range answerLines(reply.Answer) {
		fmt.Fprintln(out, answerStyle.Render(line))
	}

	if refs := referenceLines(reply.Citations); len(refs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, referenceTitleStyle.Render("References"))
		for _, line := range refs {
			fmt.Fprintln(out, referenceStyle.Render(line))
		}
	}

	if len(reply.Degraded) > 0 {
		stages := make([]string, 0, len(reply.Degraded))
		for _, stage := range reply.Degraded {
			stages = append(stages, string(stage))
		}
		fmt.Fprintln(out, degradedStyle.Render("degraded: "+strings.Join(stages, ", ")))
	}
	fmt.Fprintln(out)
}

func answerLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

// referenceLines renders citations for a terminal, where Slack link markup
// would be noise.
func referenceLines(citations []knowledge.Citation) []string {
	lines := make([]string, 0, len(citations))
	for _, c := range citations {
		switch {
		case c.Title != "" && c.URI != "":
			lines = append(lines, "- "+c.Title+" ("+c.URI+")")
		case c.URI != "":
			lines = append(lines, "- "+c.URI)
		case c.Title != "":
			lines = append(lines, "- "+c.Title)
		}
	}

	return lines
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}

