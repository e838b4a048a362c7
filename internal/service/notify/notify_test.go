package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/slotline/slotline/internal/config"
)

func testEvent() Event {
	return Event{
		Type:       EventPublished,
		ScheduleID: 7,
		Title:      "Launch announcement",
		Platforms:  []string{"linkedin", "twitter"},
		At:         time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		Detail:     "published to 2 platforms",
	}
}

type recordingNotifier struct {
	name  string
	calls atomic.Int64
	err   error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.calls.Add(1)
	return r.err
}

func TestSlackNotifierPostsMessage(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewSlackNotifier(&config.SlackConfig{
		Enabled:    true,
		WebhookURL: server.URL,
		Channel:    "#content-ops",
	}, zap.NewNop())

	require.NoError(t, n.Notify(context.Background(), testEvent()))
	assert.Equal(t, "#content-ops", received.Channel)
	assert.Contains(t, received.Text, "Schedule #7 published")
	assert.Contains(t, received.Text, "Launch announcement")
}

func TestSlackNotifierReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewSlackNotifier(&config.SlackConfig{WebhookURL: server.URL}, zap.NewNop())
	err := n.Notify(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestWebhookNotifierSendsEventWithToken(t *testing.T) {
	var received Event
	var token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Webhook-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.WebhookConfig{
		URL:    server.URL,
		Secret: "tok-1",
	}, zap.NewNop())

	require.NoError(t, n.Notify(context.Background(), testEvent()))
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, EventPublished, received.Type)
	assert.EqualValues(t, 7, received.ScheduleID)
	assert.Equal(t, []string{"linkedin", "twitter"}, received.Platforms)
}

func TestManagerIsolatesChannelFailures(t *testing.T) {
	m := &Manager{logger: zap.NewNop()}
	broken := &recordingNotifier{name: "broken", err: errors.New("boom")}
	healthy := &recordingNotifier{name: "healthy"}
	m.register(broken, rate.Inf, 1)
	m.register(healthy, rate.Inf, 1)

	err := m.Notify(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.EqualValues(t, 1, broken.calls.Load())
	assert.EqualValues(t, 1, healthy.calls.Load())
}

func TestManagerDropsEventsOverRateLimit(t *testing.T) {
	m := &Manager{logger: zap.NewNop()}
	n := &recordingNotifier{name: "slow"}
	// One event per hour with a burst of two.
	m.register(n, rate.Every(time.Hour), 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Notify(context.Background(), testEvent()))
	}
	assert.EqualValues(t, 2, n.calls.Load())
}

func TestManagerEnabledFollowsConfig(t *testing.T) {
	off := NewManager(&config.NotificationsConfig{RatePerMinute: 10}, zap.NewNop())
	assert.False(t, off.Enabled())

	on := NewManager(&config.NotificationsConfig{
		RatePerMinute: 10,
		Slack:         config.SlackConfig{Enabled: true, WebhookURL: "https://hooks.example.com/x"},
	}, zap.NewNop())
	assert.True(t, on.Enabled())
}
