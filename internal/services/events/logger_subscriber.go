package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
)

// NewLoggerSubscriber returns a handler that writes index events to the log
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		entry := logger.Info().Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case *models.IndexReport:
			totals := payload.Totals()
			entry = entry.Str("run_id", payload.RunID).
				Int("processed", totals.Processed).
				Int("failed", totals.Failed).
				Int("reused", totals.Reused).
				Int64("duration_ms", payload.DurationMs)
		case *models.TypeReport:
			entry = entry.Str("entity_type", string(payload.EntityType)).
				Int("processed", payload.Processed).
				Int("skipped", payload.Skipped).
				Int("failed", payload.Failed)
		case map[string]interface{}:
			for k, v := range payload {
				entry = entry.Str(k, fmt.Sprintf("%v", v))
			}
		}

		entry.Msg("Event received")
		return nil
	}
}

// SubscribeLoggerToAllEvents attaches the logger subscriber to every known event type
func SubscribeLoggerToAllEvents(service interfaces.EventService, logger arbor.ILogger) error {
	handler := NewLoggerSubscriber(logger)
	for _, eventType := range []interfaces.EventType{
		interfaces.EventIndexStarted,
		interfaces.EventIndexTypeCompleted,
		interfaces.EventIndexCompleted,
		interfaces.EventConversationPurged,
	} {
		if _, err := service.Subscribe(eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe logger to %s: %w", eventType, err)
		}
	}
	return nil
}
