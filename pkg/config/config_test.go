package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	return path
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, `{
	  "slack": {"bot_token": "xoxb-file", "bot_user_id": "U0BOT", "allow_from": ["U1"]},
	  "knowledge": {"knowledge_base_id": "KB1", "model_arn": "arn:aws:bedrock:us-east-1::foundation-model/test"},
	  "pipeline": {"candidate_model": "ft:gpt-4o:team::abc", "synthesis_model": "o3-mini"},
	  "gateway": {"host": "0.0.0.0", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)

	t.Setenv("FUSIONBOT_CONFIG", path)
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_ALLOW_FROM", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Slack.MentionToken() != "<@U0BOT>" {
		t.Fatalf("mention token = %q, want %q", cfg.Slack.MentionToken(), "<@U0BOT>")
	}
	if cfg.Pipeline.CandidateCount != DefaultCandidateCount {
		t.Fatalf("candidate_count = %d, want %d", cfg.Pipeline.CandidateCount, DefaultCandidateCount)
	}
	if cfg.Pipeline.RequestTimeout() != DefaultRequestTimeoutSeconds*time.Second {
		t.Fatalf("request timeout = %s", cfg.Pipeline.RequestTimeout())
	}
	if cfg.Knowledge.TitleMetadataKey != DefaultTitleMetadataKey {
		t.Fatalf("title_metadata_key = %q", cfg.Knowledge.TitleMetadataKey)
	}
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"slack": {"bot_token": "xoxb-file", "allow_from": ["U1"]}}`)

	t.Setenv("FUSIONBOT_CONFIG", path)
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("SLACK_ALLOW_FROM", " U2, ,U3 ")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "xoxb-env", cfg.Slack.BotToken)
	require.Equal(t, []string{"U2", "U3"}, cfg.Slack.AllowFrom)
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("FUSIONBOT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestValidateReportsMissingSettings(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "slack.bot_token is required")
	require.Contains(t, err.Error(), "pipeline.synthesis_model is required")
}

func TestMentionTokenEmptyWithoutBotID(t *testing.T) {
	if got := (SlackConfig{}).MentionToken(); got != "" {
		t.Fatalf("MentionToken = %q, want empty", got)
	}
}

func TestValidatePipelineSkipsSlackSettings(t *testing.T) {
	cfg := &Config{}
	cfg.Knowledge.KnowledgeBaseID = "KB1"
	cfg.Knowledge.ModelARN = "arn:aws:bedrock:us-east-1::foundation-model/anthropic.claude-v2"
	cfg.Pipeline.CandidateModel = "gpt-4o"
	cfg.Pipeline.SynthesisModel = "o3-mini"

	require.NoError(t, cfg.ValidatePipeline())
	require.ErrorContains(t, cfg.Validate(), "slack.bot_user_id is required")
}
