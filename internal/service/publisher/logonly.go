package publisher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/models"
)

// LogPublisher is the dry-run sink: it records the publish in the log and
// reports success. Platforms without a configured endpoint fall back to it.
type LogPublisher struct {
	logger   *zap.Logger
	platform models.Platform
}

func NewLogPublisher(platform models.Platform, logger *zap.Logger) Publisher {
	return &LogPublisher{
		logger:   logger,
		platform: platform,
	}
}

func (p *LogPublisher) Platform() models.Platform {
	return p.platform
}

func (p *LogPublisher) Publish(ctx context.Context, content *PublishContent) (*PublishResult, error) {
	publishID := uuid.NewString()

	p.logger.Info("Dry-run publish",
		zap.String("platform", string(p.platform)),
		zap.String("content_id", content.ID),
		zap.String("title", content.Title),
		zap.String("publish_id", publishID))

	return &PublishResult{
		Success:     true,
		PublishID:   publishID,
		PublishedAt: time.Now(),
	}, nil
}
