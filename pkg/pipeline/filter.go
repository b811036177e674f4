package pipeline

import (
	"slices"
	"strings"

	"fusionbot/pkg/config"
)

const (
	EnvelopeURLVerification = "url_verification"
	EnvelopeEventCallback   = "event_callback"

	EventTypeAppMention = "app_mention"
	EventTypeMessage    = "message"
)

// Inbound is one webhook delivery after transport decoding.
type Inbound struct {
	// Retry is set when the delivery carried an X-Slack-Retry-Num header.
	Retry     bool
	Type      string
	Challenge string
	Event     Event
}

// Event is the inner Slack event of an event_callback envelope.
type Event struct {
	Type            string
	Text            string
	User            string
	Channel         string
	Timestamp       string
	ThreadTimestamp string
	BotID           string
}

// InThread reports whether the event is a reply inside an existing thread.
func (e Event) InThread() bool {
	return strings.TrimSpace(e.ThreadTimestamp) != ""
}

// ReplyThread is the thread the assistant answers in: the event's thread when
// it has one, otherwise a new thread rooted at the event itself.
func (e Event) ReplyThread() string {
	if e.InThread() {
		return strings.TrimSpace(e.ThreadTimestamp)
	}

	return strings.TrimSpace(e.Timestamp)
}

type DecisionKind int

const (
	DecisionIgnore DecisionKind = iota
	DecisionChallenge
	DecisionRefuse
	DecisionProcess
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionIgnore:
		return "ignore"
	case DecisionChallenge:
		return "challenge"
	case DecisionRefuse:
		return "refuse"
	case DecisionProcess:
		return "process"
	default:
		return "unknown"
	}
}

// Decision is the tagged outcome of Classify.
type Decision struct {
	Kind DecisionKind
	// Reason explains an Ignore or Refuse decision for logs.
	Reason    string
	Challenge string
	Question  string
	Event     Event
}

// FilterConfig is the part of the configuration the event filter reads.
type FilterConfig struct {
	MentionToken string
	AllowFrom    []string
}

func NewFilterConfig(cfg config.SlackConfig) FilterConfig {
	return FilterConfig{
		MentionToken: cfg.MentionToken(),
		AllowFrom:    cfg.AllowFrom,
	}
}

// Classify decides what to do with an inbound delivery. It performs no I/O.
func Classify(cfg FilterConfig, in Inbound) Decision {
	if in.Retry {
		return Decision{Kind: DecisionIgnore, Reason: "retry delivery"}
	}
	if in.Type == EnvelopeURLVerification {
		return Decision{Kind: DecisionChallenge, Challenge: in.Challenge}
	}

	event := in.Event
	if strings.TrimSpace(event.BotID) != "" {
		return Decision{Kind: DecisionIgnore, Reason: "bot message", Event: event}
	}
	if cfg.MentionToken == "" || event.Text == "" || !strings.Contains(event.Text, cfg.MentionToken) {
		return Decision{Kind: DecisionIgnore, Reason: "not mentioned", Event: event}
	}
	if !slices.Contains(cfg.AllowFrom, event.User) {
		return Decision{Kind: DecisionRefuse, Reason: "author not allowed", Event: event}
	}
	if event.Type != EventTypeAppMention && event.Type != EventTypeMessage {
		return Decision{Kind: DecisionIgnore, Reason: "unsupported event type " + event.Type, Event: event}
	}

	return Decision{
		Kind:     DecisionProcess,
		Question: ExtractQuestion(event.Text, cfg.MentionToken),
		Event:    event,
	}
}

// ExtractQuestion strips every mention token from text and trims the result.
func ExtractQuestion(text, mentionToken string) string {
	if mentionToken != "" {
		text = strings.ReplaceAll(text, mentionToken, "")
	}

	return strings.TrimSpace(text)
}
