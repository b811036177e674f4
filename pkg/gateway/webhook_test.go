package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"fusionbot/pkg/config"
	"fusionbot/pkg/knowledge"
	"fusionbot/pkg/pipeline"
	providertypes "fusionbot/pkg/provider/types"

	"github.com/stretchr/testify/require"
)

const (
	challengeBody = `{"token":"Jhj5dZrVaK7ZwHHjRyZWjbDl","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`

	mentionBody = `{
	  "token": "XXYYZZ",
	  "team_id": "T1",
	  "api_app_id": "A1",
	  "type": "event_callback",
	  "event_id": "Ev1",
	  "event_time": 1234567890,
	  "event": {
	    "type": "app_mention",
	    "user": "UALLOWED",
	    "text": "<@UBOT> what's our Q3 plan?",
	    "ts": "100.1",
	    "thread_ts": "100.0",
	    "channel": "C1",
	    "event_ts": "100.1"
	  }
	}`

	botMessageBody = `{
	  "token": "XXYYZZ",
	  "team_id": "T1",
	  "api_app_id": "A1",
	  "type": "event_callback",
	  "event": {
	    "type": "message",
	    "user": "UBOT",
	    "bot_id": "B1",
	    "text": "<@UBOT> echo",
	    "ts": "100.2",
	    "channel": "C1",
	    "event_ts": "100.2"
	  }
	}`
)

type recordingHandler struct {
	mu       sync.Mutex
	inbounds []pipeline.Inbound
	err      error
}

func (h *recordingHandler) Handle(_ context.Context, in pipeline.Inbound) (pipeline.Decision, error) {
	h.mu.Lock()
	h.inbounds = append(h.inbounds, in)
	h.mu.Unlock()

	decision := pipeline.Classify(pipeline.FilterConfig{MentionToken: "<@UBOT>", AllowFrom: []string{"UALLOWED"}}, in)
	return decision, h.err
}

func (h *recordingHandler) snapshot() []pipeline.Inbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]pipeline.Inbound(nil), h.inbounds...)
}

type staticHealth struct {
	mu  sync.Mutex
	err error
}

func (h *staticHealth) Health(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *staticHealth) set(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func newTestService(t *testing.T, cfg *config.Config, handler EventHandler) *Service {
	t.Helper()

	svc, err := NewService(cfg, handler, &staticHealth{}, nil, slog.Default())
	require.NoError(t, err)
	return svc
}

func postEvent(t *testing.T, h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEchoesChallenge(t *testing.T) {
	handler := &recordingHandler{}
	svc := newTestService(t, &config.Config{}, handler)

	rec := postEvent(t, svc.Router(), challengeBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", rec.Body.String())
}

func TestWebhookDecodesAppMention(t *testing.T) {
	handler := &recordingHandler{}
	svc := newTestService(t, &config.Config{}, handler)

	rec := postEvent(t, svc.Router(), mentionBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	inbounds := handler.snapshot()
	require.Len(t, inbounds, 1)
	require.Equal(t, pipeline.Inbound{
		Type: pipeline.EnvelopeEventCallback,
		Event: pipeline.Event{
			Type:            pipeline.EventTypeAppMention,
			Text:            "<@UBOT> what's our Q3 plan?",
			User:            "UALLOWED",
			Channel:         "C1",
			Timestamp:       "100.1",
			ThreadTimestamp: "100.0",
		},
	}, inbounds[0])
}

func TestWebhookDecodesBotMessage(t *testing.T) {
	handler := &recordingHandler{}
	svc := newTestService(t, &config.Config{}, handler)

	rec := postEvent(t, svc.Router(), botMessageBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	inbounds := handler.snapshot()
	require.Len(t, inbounds, 1)
	require.Equal(t, pipeline.EventTypeMessage, inbounds[0].Event.Type)
	require.Equal(t, "B1", inbounds[0].Event.BotID)
}

func TestWebhookMarksRetries(t *testing.T) {
	handler := &recordingHandler{}
	svc := newTestService(t, &config.Config{}, handler)

	rec := postEvent(t, svc.Router(), mentionBody, http.Header{"X-Slack-Retry-Num": {"1"}, "X-Slack-Retry-Reason": {"http_timeout"}})
	require.Equal(t, http.StatusOK, rec.Code)

	inbounds := handler.snapshot()
	require.Len(t, inbounds, 1)
	require.True(t, inbounds[0].Retry)
}

func TestWebhookFatalPipelineErrorReturns500(t *testing.T) {
	handler := &recordingHandler{err: &pipeline.DeliveryError{Channel: "C1", Err: errors.New("channel_not_found")}}
	svc := newTestService(t, &config.Config{}, handler)

	rec := postEvent(t, svc.Router(), mentionBody, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	handler := &recordingHandler{}
	svc := newTestService(t, &config.Config{}, handler)

	rec := postEvent(t, svc.Router(), `{"type":`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, handler.snapshot())
}

func TestWebhookSignatureVerification(t *testing.T) {
	const secret = "8f742231b10e8888abcd99yyyzzz85a5"
	cfg := &config.Config{}
	cfg.Slack.SigningSecret = secret

	handler := &recordingHandler{}
	svc := newTestService(t, cfg, handler)
	router := svc.Router()

	rec := postEvent(t, router, mentionBody, signedHeader(secret, mentionBody, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, handler.snapshot(), 1)

	rec = postEvent(t, router, mentionBody, signedHeader("wrong-secret", mentionBody, time.Now()))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postEvent(t, router, mentionBody, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Len(t, handler.snapshot(), 1)
}

func signedHeader(secret, body string, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + ts + ":" + body))

	return http.Header{
		"X-Slack-Request-Timestamp": {ts},
		"X-Slack-Signature":         {"v0=" + hex.EncodeToString(mac.Sum(nil))},
	}
}

type scriptedRetriever struct{ err error }

func (r scriptedRetriever) Retrieve(context.Context, string) (knowledge.Result, error) {
	return knowledge.Result{Answer: "rag"}, r.err
}

type scriptedCompleter struct {
	synthesisErr error
}

func (c scriptedCompleter) Complete(_ context.Context, model string, _ []providertypes.Message) (providertypes.Completion, error) {
	if model == "synth" && c.synthesisErr != nil {
		return providertypes.Completion{}, c.synthesisErr
	}
	return providertypes.Completion{Text: "answer from " + model}, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	posts []string
}

func (p *recordingPublisher) PostMessage(_ context.Context, channelID, text, threadTS string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, channelID+"|"+threadTS+"|"+text)
	return nil
}

func (p *recordingPublisher) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posts...)
}

func pipelineConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Slack.BotUserID = "UBOT"
	cfg.Slack.AllowFrom = []string{"UALLOWED"}
	cfg.Pipeline.CandidateModel = "cand"
	cfg.Pipeline.SynthesisModel = "synth"
	cfg.Pipeline.CandidateCount = 2
	cfg.Pipeline.RequestTimeoutSeconds = 5
	return cfg
}

func TestWebhookRunsPipelineEndToEnd(t *testing.T) {
	cfg := pipelineConfig()
	publisher := &recordingPublisher{}
	p, err := pipeline.New(cfg, pipeline.Dependencies{
		Retriever: scriptedRetriever{},
		Completer: scriptedCompleter{},
		Publisher: publisher,
	})
	require.NoError(t, err)

	svc := newTestService(t, cfg, p)
	rec := postEvent(t, svc.Router(), mentionBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"C1|100.0|answer from synth"}, publisher.snapshot())
}

func TestWebhookSynthesisFailureReturns500WithoutReply(t *testing.T) {
	cfg := pipelineConfig()
	publisher := &recordingPublisher{}
	p, err := pipeline.New(cfg, pipeline.Dependencies{
		Retriever: scriptedRetriever{err: errors.New("kb down")},
		Completer: scriptedCompleter{synthesisErr: errors.New("rate limited")},
		Publisher: publisher,
	})
	require.NoError(t, err)

	svc := newTestService(t, cfg, p)
	rec := postEvent(t, svc.Router(), mentionBody, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, publisher.snapshot())
}
