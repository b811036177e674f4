package cmd

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"fusionbot/pkg/knowledge"
	"fusionbot/pkg/pipeline"

	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	reply     pipeline.Reply
	err       error
	questions []string
}

func (f *fakeAnswerer) Answer(_ context.Context, req pipeline.Request) (pipeline.Reply, error) {
	f.questions = append(f.questions, req.Question)
	return f.reply, f.err
}

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "exit", want: true},
		{input: " quit ", want: true},
		{input: ":q", want: true},
		{input: "EXIT", want: true},
		{input: "hello", want: false},
		{input: "quit now", want: false},
	}

	for _, tt := range tests {
		if got := isExitCommand(tt.input); got != tt.want {
			t.Fatalf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAnswerLines(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOut []string
	}{
		{name: "single line", input: "hello", wantOut: []string{"hello"}},
		{name: "multi line", input: "one\ntwo", wantOut: []string{"one", "two"}},
		{name: "trim outer whitespace", input: "  one\ntwo  ", wantOut: []string{"one", "two"}},
		{name: "empty input", input: "   ", wantOut: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := answerLines(tt.input)
			if !reflect.DeepEqual(got, tt.wantOut) {
				t.Fatalf("answerLines(%q) = %#v, want %#v", tt.input, got, tt.wantOut)
			}
		})
	}
}

func TestResolveQuestion(t *testing.T) {
	original := questionText
	t.Cleanup(func() {
		questionText = original
	})

	questionText = " from-flag "
	if got := resolveQuestion([]string{"from", "args"}); got != "from-flag" {
		t.Fatalf("resolveQuestion with flag = %q, want %q", got, "from-flag")
	}

	questionText = ""
	if got := resolveQuestion([]string{"what", "is", "SLA?"}); got != "what is SLA?" {
		t.Fatalf("resolveQuestion with args = %q, want %q", got, "what is SLA?")
	}

	if got := resolveQuestion(nil); got != "" {
		t.Fatalf("resolveQuestion without input = %q, want empty", got)
	}
}

func TestReferenceLines(t *testing.T) {
	got := referenceLines([]knowledge.Citation{
		{Title: "Runbook", URI: "s3://kb/runbook.md"},
		{URI: "s3://kb/faq.md"},
		{Title: "Handbook"},
		{},
	})

	require.Equal(t, []string{
		"- Runbook (s3://kb/runbook.md)",
		"- s3://kb/faq.md",
		"- Handbook",
	}, got)
}

func TestAskOncePrintsAnswerAndReferences(t *testing.T) {
	a := &fakeAnswerer{reply: pipeline.Reply{
		Answer:    "Use the blue button.\nThen wait.",
		Citations: []knowledge.Citation{{Title: "Guide", URI: "https://example.com/guide"}},
		Degraded:  []pipeline.Stage{pipeline.StageRetrieval},
	}}

	var out bytes.Buffer
	require.NoError(t, askOnce(context.Background(), a, &out, "how?"))
	require.Equal(t, []string{"how?"}, a.questions)

	text := out.String()
	require.Contains(t, text, "Use the blue button.")
	require.Contains(t, text, "Then wait.")
	require.Contains(t, text, "References")
	require.Contains(t, text, "- Guide (https://example.com/guide)")
	require.Contains(t, text, "degraded: retrieval")
}

func TestAskOnceReturnsPipelineError(t *testing.T) {
	a := &fakeAnswerer{err: &pipeline.SynthesisError{Model: "o3-mini", Err: errors.New("rate limited")}}

	var out bytes.Buffer
	err := askOnce(context.Background(), a, &out, "how?")
	require.ErrorContains(t, err, "answer failed")

	var synthErr *pipeline.SynthesisError
	require.ErrorAs(t, err, &synthErr)
	require.Empty(t, out.String())
}

func TestRunInteractiveSkipsBlankLinesAndStopsOnExit(t *testing.T) {
	a := &fakeAnswerer{reply: pipeline.Reply{Answer: "pong"}}
	in := strings.NewReader("ping\n\n   \nsecond\nquit\nnever\n")

	var out bytes.Buffer
	require.NoError(t, runInteractive(context.Background(), a, in, &out))
	require.Equal(t, []string{"ping", "second"}, a.questions)
	require.Equal(t, 2, strings.Count(out.String(), "pong"))
}

func TestRunInteractiveKeepsGoingAfterError(t *testing.T) {
	a := &fakeAnswerer{err: errors.New("boom")}
	in := strings.NewReader("one\ntwo\n")

	var out bytes.Buffer
	require.NoError(t, runInteractive(context.Background(), a, in, &out))
	require.Equal(t, []string{"one", "two"}, a.questions)
	require.Equal(t, 2, strings.Count(out.String(), "boom"))
}
