package fantasy

import (
	"context"
	"errors"
	"testing"

	core "charm.land/fantasy"

	"fusionbot/pkg/config"
	providertypes "fusionbot/pkg/provider/types"
)

type fakeLanguageModelProvider struct {
	model     core.LanguageModel
	err       error
	lastID    string
	callCount int
}

func (f *fakeLanguageModelProvider) LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error) {
	f.callCount++
	f.lastID = modelID
	if f.err != nil {
		return nil, f.err
	}

	return f.model, nil
}

type fakeLanguageModel struct{}

func (f *fakeLanguageModel) Generate(context.Context, core.Call) (*core.Response, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) Stream(context.Context, core.Call) (core.StreamResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) GenerateObject(context.Context, core.ObjectCall) (*core.ObjectResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) StreamObject(context.Context, core.ObjectCall) (core.ObjectStreamResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) Provider() string { return "openai" }
func (f *fakeLanguageModel) Model() string    { return "o3-mini" }

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New(&config.Config{}); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestNormalizeOpenAIModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "o3-mini", want: "o3-mini"},
		{name: "openai prefixed", input: "openai/o3-mini", want: "o3-mini"},
		{name: "non openai prefixed", input: "anthropic/claude", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeOpenAIModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeOpenAIModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeOpenAIModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestHealthResolvesSynthesisModel(t *testing.T) {
	provider := &fakeLanguageModelProvider{model: &fakeLanguageModel{}}
	client := &Client{provider: provider, healthModel: "openai/o3-mini"}

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health error: %v", err)
	}
	if provider.lastID != "o3-mini" {
		t.Fatalf("model id = %q, want %q", provider.lastID, "o3-mini")
	}
}

func TestCompleteSplitsTranscriptIntoHistoryAndPrompt(t *testing.T) {
	var gotCall core.AgentCall
	client := &Client{
		provider: &fakeLanguageModelProvider{model: &fakeLanguageModel{}},
		generate: func(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
			gotCall = call
			return &core.AgentResult{
				Response: core.Response{
					Content: core.ResponseContent{core.TextContent{Text: " fused "}},
				},
			}, nil
		},
	}

	completion, err := client.Complete(context.Background(), "o3-mini", []providertypes.Message{
		providertypes.System(""),
		providertypes.User("first question"),
		providertypes.Assistant("first answer"),
		providertypes.User("fusion prompt"),
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if completion.Text != "fused" {
		t.Fatalf("text = %q, want %q", completion.Text, "fused")
	}
	if gotCall.Prompt != "fusion prompt" {
		t.Fatalf("prompt = %q, want %q", gotCall.Prompt, "fusion prompt")
	}
	if len(gotCall.Messages) != 2 {
		t.Fatalf("history length = %d, want 2 (empty system dropped)", len(gotCall.Messages))
	}
	if gotCall.Messages[0].Role != core.MessageRoleUser {
		t.Fatalf("history[0].Role = %q, want user", gotCall.Messages[0].Role)
	}
	if gotCall.Messages[1].Role != core.MessageRoleAssistant {
		t.Fatalf("history[1].Role = %q, want assistant", gotCall.Messages[1].Role)
	}
}

func TestCompleteRejectsEmptyResponse(t *testing.T) {
	client := &Client{
		provider: &fakeLanguageModelProvider{model: &fakeLanguageModel{}},
		generate: func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error) {
			return &core.AgentResult{}, nil
		},
	}

	if _, err := client.Complete(context.Background(), "o3-mini", []providertypes.Message{providertypes.User("q")}); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestExtractText(t *testing.T) {
	content := core.ResponseContent{
		core.ReasoningContent{Text: "ignore me"},
		core.TextContent{Text: "  first  "},
		core.TextContent{Text: ""},
		core.TextContent{Text: "second"},
	}

	got := extractText(content)
	if got != "first\nsecond" {
		t.Fatalf("extractText() = %q", got)
	}
}
