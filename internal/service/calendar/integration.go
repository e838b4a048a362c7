package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/config"
	"github.com/slotline/slotline/internal/models"
)

// Integration mirrors schedules into an external calendar service. The
// calendar is a convenience view: every call here is best-effort and the
// scheduler proceeds whether or not the mirror succeeds.
type Integration struct {
	logger *zap.Logger
	config *config.CalendarConfig
	client *http.Client
}

type calendarEvent struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Platforms  []string  `json:"platforms,omitempty"`
	ScheduleID uint      `json:"schedule_id"`
	Status     string    `json:"status"`
}

func NewIntegration(cfg *config.CalendarConfig, logger *zap.Logger) *Integration {
	return &Integration{
		logger: logger,
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a calendar endpoint is configured.
func (i *Integration) Enabled() bool {
	return i.config.Enabled && i.config.BaseURL != ""
}

// CreateEvent mirrors a schedule as a one-hour calendar block and returns
// the generated event id for later updates.
func (i *Integration) CreateEvent(ctx context.Context, schedule *models.Schedule) (string, error) {
	eventID := uuid.NewString()
	if err := i.putEvent(ctx, eventID, schedule); err != nil {
		return "", err
	}

	i.logger.Debug("Calendar event created",
		zap.Uint("schedule_id", schedule.ID),
		zap.String("event_id", eventID))
	return eventID, nil
}

// UpdateEvent re-PUTs the event with the schedule's current time and status.
func (i *Integration) UpdateEvent(ctx context.Context, eventID string, schedule *models.Schedule) error {
	if eventID == "" {
		return fmt.Errorf("schedule %d has no calendar event", schedule.ID)
	}
	return i.putEvent(ctx, eventID, schedule)
}

// DeleteEvent removes the mirrored event. A 404 counts as success; the
// event is gone either way.
func (i *Integration) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "DELETE", i.eventURL(eventID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	i.authorize(req)

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("calendar returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (i *Integration) putEvent(ctx context.Context, eventID string, schedule *models.Schedule) error {
	event := calendarEvent{
		ID:         eventID,
		Title:      schedule.ContentItem.Title,
		Start:      schedule.ScheduledTime,
		End:        schedule.ScheduledTime.Add(time.Hour),
		Platforms:  []string(schedule.ContentItem.Platforms),
		ScheduleID: schedule.ID,
		Status:     string(schedule.Status),
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", i.eventURL(eventID), bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	i.authorize(req)

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("calendar returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (i *Integration) eventURL(eventID string) string {
	return fmt.Sprintf("%s/events/%s", i.config.BaseURL, eventID)
}

func (i *Integration) authorize(req *http.Request) {
	if i.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+i.config.APIToken)
	}
}
