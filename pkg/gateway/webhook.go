package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"fusionbot/pkg/logger"
	"fusionbot/pkg/pipeline"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const headerRetryNum = "X-Slack-Retry-Num"

// handleSlackEvents acknowledges a Slack Events API delivery after the
// pipeline has finished with it. Only synthesis and delivery failures turn
// into a 500.
func (s *Service) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	log := s.log.With("component", "gateway.webhook")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err != nil {
		log.Warn("Failed to read event body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if secret := strings.TrimSpace(s.cfg.Slack.SigningSecret); secret != "" {
		if err := verifySignature(r.Header, body, secret); err != nil {
			log.Warn("Rejected unsigned event", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if !json.Valid(body) {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	in, err := decodeInbound(body)
	if err != nil {
		// Unknown inner event types are acknowledged so Slack does not retry.
		log.Debug("Ignoring undecodable event", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	in.Retry = r.Header.Get(headerRetryNum) != ""

	// The pipeline outlives a client that stops waiting; per-call timeouts
	// bound it instead.
	ctx := logger.WithContext(context.WithoutCancel(r.Context()), log)
	decision, err := s.handler.Handle(ctx, in)
	if err != nil {
		log.Error("Event processing failed", "decision", decision.Kind.String(), "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if decision.Kind == pipeline.DecisionChallenge {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(decision.Challenge))
		return
	}

	w.WriteHeader(http.StatusOK)
}

func verifySignature(header http.Header, body []byte, secret string) error {
	verifier, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return err
	}
	if _, err := verifier.Write(body); err != nil {
		return err
	}

	return verifier.Ensure()
}

// decodeInbound maps a Slack Events API envelope onto the pipeline's view of
// a delivery.
func decodeInbound(body []byte) (pipeline.Inbound, error) {
	envelope, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return pipeline.Inbound{}, err
	}

	switch envelope.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return pipeline.Inbound{}, err
		}
		return pipeline.Inbound{Type: pipeline.EnvelopeURLVerification, Challenge: challenge.Challenge}, nil
	case slackevents.CallbackEvent:
		in := pipeline.Inbound{Type: pipeline.EnvelopeEventCallback}
		switch ev := envelope.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			in.Event = pipeline.Event{
				Type:            pipeline.EventTypeAppMention,
				Text:            ev.Text,
				User:            ev.User,
				Channel:         ev.Channel,
				Timestamp:       ev.TimeStamp,
				ThreadTimestamp: ev.ThreadTimeStamp,
				BotID:           ev.BotID,
			}
		case *slackevents.MessageEvent:
			in.Event = pipeline.Event{
				Type:            pipeline.EventTypeMessage,
				Text:            ev.Text,
				User:            ev.User,
				Channel:         ev.Channel,
				Timestamp:       ev.TimeStamp,
				ThreadTimestamp: ev.ThreadTimeStamp,
				BotID:           ev.BotID,
			}
		default:
			in.Event = pipeline.Event{Type: envelope.InnerEvent.Type}
		}
		return in, nil
	default:
		return pipeline.Inbound{}, errors.New("unsupported envelope type " + envelope.Type)
	}
}
