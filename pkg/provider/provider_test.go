package provider

import (
	"testing"

	"fusionbot/pkg/config"
	providerfantasy "fusionbot/pkg/provider/fantasy"
	provideropenai "fusionbot/pkg/provider/openai"
)

func TestNewDefaultsToOpenAIProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	client, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := client.(*provideropenai.Client); !ok {
		t.Fatalf("expected *openai.Client, got %T", client)
	}
}

func TestNewReturnsErrorForUnsupportedProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.Default = "unknown"

	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewReturnsFantasyProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Providers.Default = "fantasy"

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := client.(*providerfantasy.Client); !ok {
		t.Fatalf("expected *fantasy.Client, got %T", client)
	}
}
