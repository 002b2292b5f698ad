package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"rank-alerts/internal/logging"
	"rank-alerts/internal/metrics"
)

// EventStore persists alerts append-only.
type EventStore interface {
	InsertAlert(ctx context.Context, event Event) error
}

// Broadcaster pushes a typed message to live subscribers of a project.
type Broadcaster interface {
	Broadcast(projectID, messageType string, data any)
}

// Notifier is an outbound notification channel. Delivery is best-effort;
// failures are logged and never affect persistence or the push channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Dispatcher persists alerts and fans them out to the connection registry
// and configured notification channels.
type Dispatcher struct {
	store       EventStore
	broadcaster Broadcaster
	notifiers   []Notifier
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	notifyTimeout time.Duration
}

// NewDispatcher wires a dispatcher. store, broadcaster, and met may be nil;
// the corresponding step is then skipped.
func NewDispatcher(store EventStore, broadcaster Broadcaster, notifiers []Notifier, met *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:         store,
		broadcaster:   broadcaster,
		notifiers:     notifiers,
		logger:        logging.Component(logger, "dispatcher"),
		metrics:       met,
		notifyTimeout: 10 * time.Second,
	}
}

// Raise persists the event, then pushes it to subscribers and notification
// channels. A persistence failure is retried once and then logged; it never
// stops fan-out or the monitoring loop.
func (d *Dispatcher) Raise(ctx context.Context, event Event) {
	if d.metrics != nil {
		d.metrics.AlertsTotal.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
	}

	if d.store != nil {
		if err := d.store.InsertAlert(ctx, event); err != nil {
			if err = d.store.InsertAlert(ctx, event); err != nil {
				d.logger.Error().Err(err).
					Str("project_id", event.ProjectID).
					Str("keyword", event.Keyword).
					Str("type", string(event.Type)).
					Msg("failed to persist alert")
			}
		}
	}

	if d.broadcaster != nil {
		d.broadcaster.Broadcast(event.ProjectID, "alert", event)
	}

	if len(d.notifiers) > 0 {
		// Channel delivery must not block the monitoring cycle.
		go d.notify(event)
	}
}

func (d *Dispatcher) notify(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.notifyTimeout)
	defer cancel()

	for _, notifier := range d.notifiers {
		if err := notifier.Send(ctx, event); err != nil {
			d.logger.Warn().Err(err).
				Str("channel", notifier.Name()).
				Str("project_id", event.ProjectID).
				Str("type", string(event.Type)).
				Msg("notification channel delivery failed")
		}
	}
}
