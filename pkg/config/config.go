package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envConfigPath         = "FUSIONBOT_CONFIG"
	envSlackBotToken      = "SLACK_BOT_TOKEN"
	envSlackSigningSecret = "SLACK_SIGNING_SECRET"
	envSlackAllowFrom     = "SLACK_ALLOW_FROM"
	envSlackBotUserID     = "SLACK_BOT_USER_ID"
	envKnowledgeBaseID    = "KNOWLEDGE_BASE_ID"
)

const (
	DefaultCandidateCount        = 5
	DefaultRequestTimeoutSeconds = 60
	DefaultTitleMetadataKey      = "x-amz-kendra-document-title"
	DefaultRegion                = "us-east-1"

	DefaultStyleInstruction  = "A member of the team is asking you a question. Answer it with the way of thinking and the tone of voice that are characteristic of you."
	DefaultRefusalMessage    = "Sorry, I can only answer questions from authorized members."
	DefaultRetrievalFallback = "Failed to retrieve an answer from the knowledge base."
	DefaultCandidateFallback = "Failed to generate an answer."
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Slack     SlackConfig     `json:"slack"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Providers ProvidersConfig `json:"providers"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// SlackConfig configures the Slack app the assistant answers as.
type SlackConfig struct {
	BotToken      string   `json:"bot_token"`
	SigningSecret string   `json:"signing_secret"`
	BotUserID     string   `json:"bot_user_id"`
	AllowFrom     []string `json:"allow_from"`
	APIURL        string   `json:"api_url,omitempty"`
}

// MentionToken is the markup Slack inserts when the bot user is mentioned.
func (c SlackConfig) MentionToken() string {
	id := strings.TrimSpace(c.BotUserID)
	if id == "" {
		return ""
	}

	return "<@" + id + ">"
}

// KnowledgeConfig configures the Bedrock knowledge-base retrieval call.
type KnowledgeConfig struct {
	Region             string `json:"region"`
	KnowledgeBaseID    string `json:"knowledge_base_id"`
	ModelARN           string `json:"model_arn"`
	TitleMetadataKey   string `json:"title_metadata_key,omitempty"`
	AccessKeyIDEnv     string `json:"access_key_id_env,omitempty"`
	SecretAccessKeyEnv string `json:"secret_access_key_env,omitempty"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	Default string               `json:"default"`
	OpenAI  OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	APIKeyEnv             string `json:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// PipelineConfig holds the answer-fusion models, prompts and fallbacks.
type PipelineConfig struct {
	CandidateModel        string `json:"candidate_model"`
	SynthesisModel        string `json:"synthesis_model"`
	CandidateCount        int    `json:"candidate_count"`
	StyleInstruction      string `json:"style_instruction,omitempty"`
	RefusalMessage        string `json:"refusal_message,omitempty"`
	RetrievalFallback     string `json:"retrieval_fallback,omitempty"`
	CandidateFallback     string `json:"candidate_fallback,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// RequestTimeout is the per-call bound applied to every external request.
func (c PipelineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Validate reports settings the webhook server cannot run without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}

	var errs []error
	if strings.TrimSpace(c.Slack.BotToken) == "" {
		errs = append(errs, errors.New("slack.bot_token is required"))
	}
	if strings.TrimSpace(c.Slack.BotUserID) == "" {
		errs = append(errs, errors.New("slack.bot_user_id is required"))
	}

	return errors.Join(append(errs, c.ValidatePipeline())...)
}

// ValidatePipeline reports settings needed to answer a question at all,
// with or without Slack.
func (c *Config) ValidatePipeline() error {
	if c == nil {
		return errors.New("config is required")
	}

	var errs []error
	if strings.TrimSpace(c.Knowledge.KnowledgeBaseID) == "" {
		errs = append(errs, errors.New("knowledge.knowledge_base_id is required"))
	}
	if strings.TrimSpace(c.Knowledge.ModelARN) == "" {
		errs = append(errs, errors.New("knowledge.model_arn is required"))
	}
	if strings.TrimSpace(c.Pipeline.CandidateModel) == "" {
		errs = append(errs, errors.New("pipeline.candidate_model is required"))
	}
	if strings.TrimSpace(c.Pipeline.SynthesisModel) == "" {
		errs = append(errs, errors.New("pipeline.synthesis_model is required"))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envSlackBotToken)); token != "" {
		cfg.Slack.BotToken = token
	}
	if secret := strings.TrimSpace(os.Getenv(envSlackSigningSecret)); secret != "" {
		cfg.Slack.SigningSecret = secret
	}
	if botUserID := strings.TrimSpace(os.Getenv(envSlackBotUserID)); botUserID != "" {
		cfg.Slack.BotUserID = botUserID
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envSlackAllowFrom)); rawAllowFrom != "" {
		cfg.Slack.AllowFrom = parseCSV(rawAllowFrom)
	}
	if kbID := strings.TrimSpace(os.Getenv(envKnowledgeBaseID)); kbID != "" {
		cfg.Knowledge.KnowledgeBaseID = kbID
	}
}

// applyDefaults fills optional settings left empty in the file.
func applyDefaults(cfg *Config) {
	if cfg.Pipeline.CandidateCount <= 0 {
		cfg.Pipeline.CandidateCount = DefaultCandidateCount
	}
	if cfg.Pipeline.RequestTimeoutSeconds <= 0 {
		cfg.Pipeline.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	defaultString(&cfg.Pipeline.StyleInstruction, DefaultStyleInstruction)
	defaultString(&cfg.Pipeline.RefusalMessage, DefaultRefusalMessage)
	defaultString(&cfg.Pipeline.RetrievalFallback, DefaultRetrievalFallback)
	defaultString(&cfg.Pipeline.CandidateFallback, DefaultCandidateFallback)
	defaultString(&cfg.Knowledge.Region, DefaultRegion)
	defaultString(&cfg.Knowledge.TitleMetadataKey, DefaultTitleMetadataKey)
}

func defaultString(target *string, value string) {
	if strings.TrimSpace(*target) == "" {
		*target = value
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is FUSIONBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
