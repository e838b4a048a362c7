package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/config"
)

// SlackNotifier posts events to a Slack incoming webhook.
type SlackNotifier struct {
	logger *zap.Logger
	config *config.SlackConfig
	client *http.Client
}

type slackMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

func NewSlackNotifier(cfg *config.SlackConfig, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		logger: logger,
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *SlackNotifier) Name() string {
	return "slack"
}

func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	jsonData, err := json.Marshal(slackMessage{
		Channel: n.config.Channel,
		Text:    fmt.Sprintf("%s\n```%s```", event.Subject(), event.Body()),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.config.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
