// Package pipeline answers one Slack mention by fusing a knowledge-base
// answer with several stylistic candidate answers and the thread history.
//
// Retrieval and candidate generation run concurrently; history loading,
// synthesis and publishing follow in order. Retrieval, candidate and history
// failures are replaced by fallbacks. Only synthesis and publish failures
// abort a request, and they do so before anything is posted.
package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"fusionbot/pkg/bus"
	"fusionbot/pkg/config"
	"fusionbot/pkg/knowledge"
	"fusionbot/pkg/logger"
	"fusionbot/pkg/metrics"
	providertypes "fusionbot/pkg/provider/types"
	"fusionbot/pkg/slack"

	"github.com/google/uuid"
)

type Retriever interface {
	Retrieve(ctx context.Context, question string) (knowledge.Result, error)
}

type Completer interface {
	Complete(ctx context.Context, model string, messages []providertypes.Message) (providertypes.Completion, error)
}

type ThreadReader interface {
	ThreadReplies(ctx context.Context, channelID, threadTS string) ([]slack.Message, error)
}

type Publisher interface {
	PostMessage(ctx context.Context, channelID, text, threadTS string) error
}

// Dependencies are the external collaborators of a Pipeline. Threads and
// Publisher may be nil when only Answer is used.
type Dependencies struct {
	Retriever Retriever
	Completer Completer
	Threads   ThreadReader
	Publisher Publisher
	Events    *bus.Bus
}

type Pipeline struct {
	retriever Retriever
	completer Completer
	threads   ThreadReader
	publisher Publisher
	events    *bus.Bus

	filter            FilterConfig
	botUserID         string
	candidateModel    string
	synthesisModel    string
	candidateCount    int
	styleInstruction  string
	refusalMessage    string
	retrievalFallback string
	candidateFallback string
	requestTimeout    time.Duration
}

// Request is one question to answer. ThreadTS is empty outside a thread.
type Request struct {
	RequestID string
	Question  string
	Channel   string
	ThreadTS  string
	TriggerTS string
}

// Reply is a composed answer ready to post.
type Reply struct {
	// Text is the answer with the references section appended.
	Text      string
	Answer    string
	Citations []knowledge.Citation
	Degraded  []Stage
}

func New(cfg *config.Config, deps Dependencies) (*Pipeline, error) {
	if deps.Retriever == nil {
		return nil, errors.New("pipeline retriever is required")
	}
	if deps.Completer == nil {
		return nil, errors.New("pipeline completer is required")
	}

	pc := cfg.Pipeline
	count := pc.CandidateCount
	if count <= 0 {
		count = config.DefaultCandidateCount
	}

	return &Pipeline{
		retriever:         deps.Retriever,
		completer:         deps.Completer,
		threads:           deps.Threads,
		publisher:         deps.Publisher,
		events:            deps.Events,
		filter:            NewFilterConfig(cfg.Slack),
		botUserID:         strings.TrimSpace(cfg.Slack.BotUserID),
		candidateModel:    strings.TrimSpace(pc.CandidateModel),
		synthesisModel:    strings.TrimSpace(pc.SynthesisModel),
		candidateCount:    count,
		styleInstruction:  strings.TrimSpace(pc.StyleInstruction),
		refusalMessage:    orDefault(pc.RefusalMessage, config.DefaultRefusalMessage),
		retrievalFallback: orDefault(pc.RetrievalFallback, config.DefaultRetrievalFallback),
		candidateFallback: orDefault(pc.CandidateFallback, config.DefaultCandidateFallback),
		requestTimeout:    pc.RequestTimeout(),
	}, nil
}

// Handle classifies one inbound delivery and, when it is an authorized
// mention, answers it in the event's thread. The returned Decision tells the
// transport how to acknowledge. A non-nil error is a *SynthesisError or a
// *DeliveryError.
func (p *Pipeline) Handle(ctx context.Context, in Inbound) (Decision, error) {
	requestID := uuid.NewString()
	log := logger.FromContext(ctx).With("component", "pipeline", "request_id", requestID)
	ctx = logger.WithContext(ctx, log)

	decision := Classify(p.filter, in)
	metrics.EventsTotal.WithLabelValues(decision.Kind.String()).Inc()

	event := decision.Event
	p.publishEvent(ctx, bus.Event{
		Type:      bus.EventReceived,
		RequestID: requestID,
		Channel:   event.Channel,
		ThreadTS:  event.ReplyThread(),
		Payload:   map[string]string{"decision": decision.Kind.String(), "event_type": event.Type},
	})

	switch decision.Kind {
	case DecisionProcess:
	case DecisionRefuse:
		log.Info("Refusing unauthorized author", "user", event.User, "channel", event.Channel)
		return decision, p.deliver(ctx, requestID, event.Channel, p.refusalMessage, event.ReplyThread())
	default:
		log.Debug("Event filtered", "decision", decision.Kind.String(), "reason", decision.Reason)
		p.publishEvent(ctx, bus.Event{
			Type:      bus.EventFiltered,
			RequestID: requestID,
			Channel:   event.Channel,
			Payload:   map[string]string{"decision": decision.Kind.String(), "reason": decision.Reason},
		})
		return decision, nil
	}

	req := Request{
		RequestID: requestID,
		Question:  decision.Question,
		Channel:   event.Channel,
		TriggerTS: event.Timestamp,
	}
	if event.InThread() {
		req.ThreadTS = strings.TrimSpace(event.ThreadTimestamp)
	}

	log.Info("Answering question", "user", event.User, "channel", event.Channel, "thread_ts", event.ReplyThread())
	reply, err := p.Answer(ctx, req)
	if err != nil {
		return decision, err
	}

	if err := p.deliver(ctx, requestID, event.Channel, reply.Text, event.ReplyThread()); err != nil {
		return decision, err
	}

	return decision, nil
}

// Answer runs the fusion pipeline for req and returns the composed reply
// without posting it.
func (p *Pipeline) Answer(ctx context.Context, req Request) (Reply, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log := logger.FromContext(ctx)

	startedAt := time.Now()
	rag, candidates, degraded := p.gather(ctx, req)
	metrics.StageDuration.WithLabelValues("gather").Observe(time.Since(startedAt).Seconds())

	ragAnswer := strings.TrimSpace(rag.Answer)
	if ragAnswer == "" {
		ragAnswer = p.retrievalFallback
	}

	inThread := req.ThreadTS != ""
	var history []ThreadMessage
	if inThread && p.threads != nil {
		startedAt = time.Now()
		var err error
		history, err = p.loadThread(ctx, req.Channel, req.ThreadTS, req.TriggerTS)
		metrics.StageDuration.WithLabelValues(string(StageHistory)).Observe(time.Since(startedAt).Seconds())
		if err != nil {
			history = nil
			p.degrade(ctx, req, StageHistory, err, nil)
			degraded = append(degraded, StageHistory)
		}
	}

	transcript := compose(req.Question, history, inThread, ragAnswer, candidates)

	startedAt = time.Now()
	answer, err := p.synthesize(ctx, transcript)
	metrics.StageDuration.WithLabelValues(string(StageSynthesis)).Observe(time.Since(startedAt).Seconds())
	if err != nil {
		log.Error("Synthesis failed", "model", p.synthesisModel, "error", err)
		p.fail(ctx, req.RequestID, req.Channel, StageSynthesis, err)
		return Reply{}, err
	}

	log.Debug("Answer composed",
		"history", len(history),
		"candidates", len(candidates),
		"citations", len(rag.Citations),
		"degraded", len(degraded),
	)

	return Reply{
		Text:      withReferences(answer, rag.Citations),
		Answer:    answer,
		Citations: rag.Citations,
		Degraded:  degraded,
	}, nil
}

func (p *Pipeline) deliver(ctx context.Context, requestID, channelID, text, threadTS string) error {
	if p.publisher == nil {
		err := &DeliveryError{Channel: channelID, ThreadTS: threadTS, Err: errors.New("no publisher configured")}
		p.fail(ctx, requestID, channelID, StagePublish, err)
		return err
	}

	pubCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	startedAt := time.Now()
	err := p.publisher.PostMessage(pubCtx, channelID, text, threadTS)
	metrics.StageDuration.WithLabelValues(string(StagePublish)).Observe(time.Since(startedAt).Seconds())
	if err != nil {
		deliveryErr := &DeliveryError{Channel: channelID, ThreadTS: threadTS, Err: err}
		logger.FromContext(ctx).Error("Reply delivery failed", "channel", channelID, "thread_ts", threadTS, "error", err)
		p.fail(ctx, requestID, channelID, StagePublish, deliveryErr)
		return deliveryErr
	}

	metrics.RepliesPublished.Inc()
	p.publishEvent(ctx, bus.Event{
		Type:      bus.EventReplyPublished,
		RequestID: requestID,
		Channel:   channelID,
		ThreadTS:  threadTS,
		Payload:   map[string]string{"length": strconv.Itoa(len(text))},
	})
	return nil
}

func (p *Pipeline) degrade(ctx context.Context, req Request, stage Stage, err error, payload map[string]string) {
	logger.FromContext(ctx).Warn("Stage degraded to fallback", "stage", string(stage), "error", err)
	metrics.StageDegradedTotal.WithLabelValues(string(stage)).Inc()
	p.publishEvent(ctx, bus.Event{
		Type:      bus.EventStageDegraded,
		RequestID: req.RequestID,
		Channel:   req.Channel,
		ThreadTS:  req.ThreadTS,
		Stage:     string(stage),
		Payload:   payload,
		Error:     err.Error(),
	})
}

func (p *Pipeline) fail(ctx context.Context, requestID, channelID string, stage Stage, err error) {
	metrics.PipelineFailuresTotal.WithLabelValues(string(stage)).Inc()
	p.publishEvent(ctx, bus.Event{
		Type:      bus.EventPipelineFailed,
		RequestID: requestID,
		Channel:   channelID,
		Stage:     string(stage),
		Error:     err.Error(),
	})
}

func (p *Pipeline) publishEvent(ctx context.Context, event bus.Event) {
	if p.events == nil {
		return
	}
	if ok := p.events.PublishEvent(ctx, event); !ok {
		logger.FromContext(ctx).Debug("Pipeline event dropped", "event_type", event.Type)
	}
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, p.requestTimeout)
}

func orDefault(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}

	return fallback
}
