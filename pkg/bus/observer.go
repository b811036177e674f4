package bus

import (
	"context"
	"log/slog"
)

// Observe logs every event until ctx is done or the bus closes.
func Observe(ctx context.Context, b *Bus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := b.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"channel", event.Channel,
		"thread_ts", event.ThreadTS,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if event.Stage != "" {
		attrs = append(attrs, "stage", event.Stage)
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case EventPipelineFailed:
		log.Error("Pipeline event", append(attrs, "error", event.Error)...)
	case EventStageDegraded:
		log.Warn("Pipeline event", append(attrs, "error", event.Error)...)
	case EventReceived, EventReplyPublished:
		log.Info("Pipeline event", attrs...)
	default:
		log.Debug("Pipeline event", attrs...)
	}
}
