// Package slack wraps the Slack Web API calls the assistant needs: posting a
// threaded reply and reading a thread's history.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fusionbot/pkg/config"

	slackapi "github.com/slack-go/slack"
)

const (
	messagePreviewLimit = 240
	repliesPageLimit    = 200
)

// Message is one thread message as returned by conversations.replies.
type Message struct {
	User      string
	BotID     string
	Text      string
	Timestamp string
}

// Client posts messages and reads thread history with the bot token.
type Client struct {
	api            *slackapi.Client
	requestTimeout time.Duration
	log            *slog.Logger
}

// New validates Slack configuration and constructs a Web API client.
func New(cfg *config.Config, log *slog.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Slack.BotToken)
	if token == "" {
		return nil, errors.New("slack.bot_token is required")
	}
	if log == nil {
		log = slog.Default()
	}

	opts := []slackapi.Option{}
	if apiURL := strings.TrimSpace(cfg.Slack.APIURL); apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slackapi.OptionAPIURL(apiURL))
	}

	return &Client{
		api:            slackapi.New(token, opts...),
		requestTimeout: cfg.Pipeline.RequestTimeout(),
		log:            log.With("component", "channel.slack"),
	}, nil
}

// PostMessage posts text to channel, threaded under threadTS when set.
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return errors.New("channel_id is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	options := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if threadTS = strings.TrimSpace(threadTS); threadTS != "" {
		options = append(options, slackapi.MsgOptionTS(threadTS))
	}

	c.log.Info("Sending message", "channel", channelID, "thread_ts", threadTS, "content", previewText(text))
	if _, _, err := c.api.PostMessageContext(ctx, channelID, options...); err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}

	return nil
}

// ThreadReplies returns every message of the thread rooted at threadTS,
// following pagination cursors. Order is whatever Slack returns.
func (c *Client) ThreadReplies(ctx context.Context, channelID, threadTS string) ([]Message, error) {
	channelID = strings.TrimSpace(channelID)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" || threadTS == "" {
		return nil, errors.New("channel_id and thread_ts are required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		out    []Message
		cursor string
	)
	for {
		msgs, hasMore, nextCursor, err := c.api.GetConversationRepliesContext(ctx, &slackapi.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Cursor:    cursor,
			Limit:     repliesPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("slack conversations.replies: %w", err)
		}

		for _, msg := range msgs {
			out = append(out, Message{
				User:      msg.User,
				BotID:     msg.BotID,
				Text:      msg.Text,
				Timestamp: msg.Timestamp,
			})
		}

		if !hasMore || strings.TrimSpace(nextCursor) == "" {
			break
		}
		cursor = nextCursor
	}

	return out, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
