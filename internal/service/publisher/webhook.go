package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/models"
)

// WebhookPublisher delivers content by POSTing it to a per-platform
// endpoint. The receiving side owns the actual platform API.
type WebhookPublisher struct {
	logger   *zap.Logger
	client   *http.Client
	platform models.Platform
	endpoint string
	secret   string
}

type webhookRequest struct {
	Platform string          `json:"platform"`
	Content  *PublishContent `json:"content"`
	SentAt   time.Time       `json:"sent_at"`
}

type webhookResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func NewWebhookPublisher(platform models.Platform, endpoint, secret string, logger *zap.Logger) Publisher {
	return &WebhookPublisher{
		logger:   logger,
		platform: platform,
		endpoint: endpoint,
		secret:   secret,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *WebhookPublisher) Platform() models.Platform {
	return p.platform
}

func (p *WebhookPublisher) Publish(ctx context.Context, content *PublishContent) (*PublishResult, error) {
	jsonData, err := json.Marshal(webhookRequest{
		Platform: string(p.platform),
		Content:  content,
		SentAt:   time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set("X-Webhook-Token", p.secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error("Webhook endpoint rejected publish",
			zap.String("platform", string(p.platform)),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", truncateBody(body)))
		return nil, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	result := &PublishResult{
		Success:     true,
		PublishedAt: time.Now(),
	}

	// The endpoint may report the platform-side id and URL; both are optional.
	var parsed webhookResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		result.PublishID = parsed.ID
		result.URL = parsed.URL
	}

	p.logger.Debug("Webhook publish accepted",
		zap.String("platform", string(p.platform)),
		zap.String("content_id", content.ID),
		zap.String("publish_id", result.PublishID))
	return result, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
