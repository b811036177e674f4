package pipeline

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"fusionbot/pkg/logger"
	providertypes "fusionbot/pkg/provider/types"
	"fusionbot/pkg/slack"
)

// fractionDigits bounds the sub-second part of a Slack timestamp.
const fractionDigits = 9

// ThreadMessage is one prior message of the thread, tagged by author role.
type ThreadMessage struct {
	Role      providertypes.Role
	Text      string
	Timestamp string
}

// loadThread returns the thread's messages in timestamp order without the
// triggering message. A fetch failure yields no history.
func (p *Pipeline) loadThread(ctx context.Context, channelID, threadTS, triggerTS string) ([]ThreadMessage, error) {
	fetchCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	msgs, err := p.threads.ThreadReplies(fetchCtx, channelID, threadTS)
	if err != nil {
		return nil, err
	}

	history := orderThread(msgs, triggerTS, p.botUserID)
	logger.FromContext(ctx).Debug("Loaded thread history", "channel", channelID, "thread_ts", threadTS, "messages", len(history))
	return history, nil
}

func orderThread(msgs []slack.Message, triggerTS, botUserID string) []ThreadMessage {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b slack.Message) int {
		return compareTimestamps(a.Timestamp, b.Timestamp)
	})

	out := make([]ThreadMessage, 0, len(sorted))
	for _, msg := range sorted {
		if msg.Timestamp == triggerTS {
			continue
		}

		role := providertypes.RoleUser
		if botUserID != "" && msg.User == botUserID {
			role = providertypes.RoleAssistant
		}
		out = append(out, ThreadMessage{Role: role, Text: msg.Text, Timestamp: msg.Timestamp})
	}

	return out
}

// compareTimestamps orders Slack "seconds.fraction" timestamps numerically.
// Unparseable timestamps sort after valid ones.
func compareTimestamps(a, b string) int {
	as, af, aok := parseTimestamp(a)
	bs, bf, bok := parseTimestamp(b)
	switch {
	case !aok && !bok:
		return strings.Compare(a, b)
	case !aok:
		return 1
	case !bok:
		return -1
	case as != bs:
		if as < bs {
			return -1
		}
		return 1
	case af != bf:
		if af < bf {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func parseTimestamp(ts string) (int64, int64, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, 0, false
	}

	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || sec < 0 {
		return 0, 0, false
	}

	if len(fracPart) > fractionDigits {
		fracPart = fracPart[:fractionDigits]
	}
	fracPart += strings.Repeat("0", fractionDigits-len(fracPart))
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil || frac < 0 {
		return 0, 0, false
	}

	return sec, frac, true
}
