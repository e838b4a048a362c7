package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/slotline/slotline/internal/models"
)

// PublishContent is the platform-neutral payload handed to every publisher.
type PublishContent struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"`
	Tags        []string          `json:"tags"`
	AltText     string            `json:"alt_text,omitempty"`
	SEOData     string            `json:"seo_data,omitempty"`
	PublishDate *time.Time        `json:"publish_date,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PublishResult represents the result of a publish operation
type PublishResult struct {
	Success     bool      `json:"success"`
	PublishID   string    `json:"publish_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	Error       error     `json:"-"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher delivers content to one platform. Implementations are safe for
// concurrent use; the manager fans out across platforms.
type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, content *PublishContent) (*PublishResult, error)
}

// FromContentItem converts a ContentItem to the wire payload.
func FromContentItem(item *models.ContentItem, scheduledFor time.Time) *PublishContent {
	metadata := map[string]string{
		"content_item_id": fmt.Sprintf("%d", item.ID),
		"status":          string(item.Status),
	}

	t := scheduledFor
	return &PublishContent{
		ID:          fmt.Sprintf("%d", item.ID),
		Title:       item.Title,
		Description: item.Description,
		Content:     item.Content,
		ContentType: string(item.ContentType),
		Tags:        []string(item.Tags),
		AltText:     item.AltText,
		SEOData:     item.SEOData,
		PublishDate: &t,
		Metadata:    metadata,
	}
}
