package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"fusionbot/pkg/knowledge"
	"fusionbot/pkg/logger"
	providertypes "fusionbot/pkg/provider/types"

	"golang.org/x/sync/errgroup"
)

var errEmptyCandidate = errors.New("empty candidate answer")

// gather runs retrieval and every candidate call concurrently and waits for
// all of them. Stage failures are absorbed here and never returned.
func (p *Pipeline) gather(ctx context.Context, req Request) (knowledge.Result, []string, []Stage) {
	var (
		rag        knowledge.Result
		ragErr     error
		candidates = make([]string, p.candidateCount)
		candErrs   = make([]error, p.candidateCount)
	)

	var g errgroup.Group
	g.Go(func() error {
		rag, ragErr = p.retrieve(ctx, req.Question)
		return nil
	})
	for i := range candidates {
		g.Go(func() error {
			candidates[i], candErrs[i] = p.candidate(ctx, req.Question)
			return nil
		})
	}
	_ = g.Wait()

	var degraded []Stage
	if ragErr != nil {
		rag = knowledge.Result{}
		p.degrade(ctx, req, StageRetrieval, ragErr, nil)
		degraded = append(degraded, StageRetrieval)
	}

	candidateDegraded := false
	for i, err := range candErrs {
		if err == nil {
			continue
		}
		candidates[i] = p.candidateFallback
		p.degrade(ctx, req, StageCandidates, err, map[string]string{"slot": strconv.Itoa(i + 1)})
		candidateDegraded = true
	}
	if candidateDegraded {
		degraded = append(degraded, StageCandidates)
	}

	return rag, candidates, degraded
}

func (p *Pipeline) retrieve(ctx context.Context, question string) (knowledge.Result, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	return p.retriever.Retrieve(ctx, question)
}

// candidate asks the fine-tuned model once, with the style instruction and the
// bare question as the only turns.
func (p *Pipeline) candidate(ctx context.Context, question string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	messages := make([]providertypes.Message, 0, 2)
	if p.styleInstruction != "" {
		messages = append(messages, providertypes.System(p.styleInstruction))
	}
	messages = append(messages, providertypes.User(question))

	completion, err := p.completer.Complete(ctx, p.candidateModel, messages)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return "", errEmptyCandidate
	}

	logger.FromContext(ctx).Debug("Candidate generated", "model", p.candidateModel, "length", len(text))
	return text, nil
}

func (p *Pipeline) synthesize(ctx context.Context, transcript []providertypes.Message) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	completion, err := p.completer.Complete(ctx, p.synthesisModel, transcript)
	if err != nil {
		return "", &SynthesisError{Model: p.synthesisModel, Err: err}
	}

	answer := strings.TrimSpace(completion.Text)
	if answer == "" {
		return "", &SynthesisError{Model: p.synthesisModel, Err: errors.New("empty answer")}
	}

	return answer, nil
}
