package installer

import (
	"context"
	"time"

	"devplay/internal/logging"
	"devplay/internal/notifications"
	"devplay/internal/queue"
)

// EventKind names a queue lifecycle transition.
type EventKind string

const (
	EventStarted         EventKind = "started"
	EventPaused          EventKind = "paused"
	EventCompleted       EventKind = "completed"
	EventUninstalled     EventKind = "uninstalled"
	EventIdentityChanged EventKind = "identity_changed"
)

// Event is delivered on Controller.Events.
type Event struct {
	Kind   EventKind
	ItemID string
	Record queue.Record
	At     time.Time
}

func (c *Controller) emit(kind EventKind, record queue.Record) {
	ev := Event{Kind: kind, ItemID: record.ItemID, Record: record, At: c.clock.Now()}
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event dropped; subscriber not keeping up",
			logging.String("event", string(kind)),
			logging.ItemID(record.ItemID),
		)
	}
}

func (c *Controller) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Publish(ctx, event, payload); err != nil {
		c.logger.Warn("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.Alert("notification"),
		)
	}
}

func recordPayload(record queue.Record) notifications.Payload {
	return notifications.Payload{
		"itemId": record.ItemID,
		"name":   record.Name,
		"size":   record.Size,
	}
}
