package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/slotline/slotline/internal/config"
)

// EventType names a schedule lifecycle transition worth telling people
// about.
type EventType string

const (
	EventScheduled EventType = "scheduled"
	EventPublished EventType = "published"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
	EventMissed    EventType = "missed"
)

// Event is one notification payload, shared by every channel.
type Event struct {
	Type       EventType `json:"type"`
	ScheduleID uint      `json:"schedule_id"`
	Title      string    `json:"title"`
	Platforms  []string  `json:"platforms,omitempty"`
	At         time.Time `json:"at"`
	Detail     string    `json:"detail,omitempty"`
}

// Subject is the one-line rendering used for mail subjects and chat
// messages.
func (e *Event) Subject() string {
	return fmt.Sprintf("Schedule #%d %s: %s", e.ScheduleID, e.Type, e.Title)
}

// Body is the multi-line rendering.
func (e *Event) Body() string {
	lines := []string{
		fmt.Sprintf("Schedule:  #%d", e.ScheduleID),
		fmt.Sprintf("Event:     %s", e.Type),
		fmt.Sprintf("Title:     %s", e.Title),
		fmt.Sprintf("Time:      %s", e.At.Format(time.RFC3339)),
	}
	if len(e.Platforms) > 0 {
		lines = append(lines, fmt.Sprintf("Platforms: %s", strings.Join(e.Platforms, ", ")))
	}
	if e.Detail != "" {
		lines = append(lines, "", e.Detail)
	}
	return strings.Join(lines, "\n")
}

// Notifier delivers an event over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

type channel struct {
	notifier Notifier
	limiter  *rate.Limiter
}

// Manager fans events out to every enabled channel. Delivery is best-effort:
// a slow or broken channel drops its own events and never blocks scheduling.
type Manager struct {
	logger   *zap.Logger
	channels []channel
}

func NewManager(cfg *config.NotificationsConfig, logger *zap.Logger) *Manager {
	m := &Manager{logger: logger}

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	limit := rate.Every(time.Minute / time.Duration(perMinute))

	if cfg.Email.Enabled {
		m.register(NewEmailNotifier(&cfg.Email), limit, perMinute)
	}
	if cfg.Slack.Enabled {
		m.register(NewSlackNotifier(&cfg.Slack, logger), limit, perMinute)
	}
	if cfg.Webhook.Enabled {
		m.register(NewWebhookNotifier(&cfg.Webhook, logger), limit, perMinute)
	}

	return m
}

func (m *Manager) register(n Notifier, limit rate.Limit, burst int) {
	m.channels = append(m.channels, channel{
		notifier: n,
		limiter:  rate.NewLimiter(limit, burst),
	})
	m.logger.Info("Notification channel enabled", zap.String("channel", n.Name()))
}

// Enabled reports whether any channel is configured.
func (m *Manager) Enabled() bool {
	return len(m.channels) > 0
}

// Notify sends the event to every channel whose rate limit allows it. The
// aggregated error is for the caller's log; there is nothing to retry.
func (m *Manager) Notify(ctx context.Context, event Event) error {
	var errs error

	for _, ch := range m.channels {
		if !ch.limiter.Allow() {
			m.logger.Warn("Notification dropped by rate limit",
				zap.String("channel", ch.notifier.Name()),
				zap.Uint("schedule_id", event.ScheduleID),
				zap.String("event", string(event.Type)))
			continue
		}

		if err := ch.notifier.Notify(ctx, event); err != nil {
			m.logger.Error("Notification delivery failed",
				zap.String("channel", ch.notifier.Name()),
				zap.Uint("schedule_id", event.ScheduleID),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ch.notifier.Name(), err))
		}
	}

	return errs
}
