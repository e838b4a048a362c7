package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/slotline/slotline/internal/models"
)

// maxConcurrentPublishes bounds how many platforms one firing talks to at
// the same time.
const maxConcurrentPublishes = 3

// Manager holds one publisher per platform and fans a payload out to a
// requested set of them.
type Manager struct {
	publishers map[models.Platform]Publisher
	logger     *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		publishers: make(map[models.Platform]Publisher),
		logger:     logger,
	}
}

func (m *Manager) Register(publisher Publisher) error {
	platform := publisher.Platform()
	if _, exists := m.publishers[platform]; exists {
		return fmt.Errorf("publisher for platform %s already registered", platform)
	}

	m.publishers[platform] = publisher
	m.logger.Info("Publisher registered", zap.String("platform", string(platform)))
	return nil
}

func (m *Manager) Get(platform models.Platform) (Publisher, error) {
	publisher, exists := m.publishers[platform]
	if !exists {
		return nil, fmt.Errorf("publisher for platform %s not found", platform)
	}
	return publisher, nil
}

// Platforms lists every registered platform.
func (m *Manager) Platforms() []models.Platform {
	platforms := make([]models.Platform, 0, len(m.publishers))
	for platform := range m.publishers {
		platforms = append(platforms, platform)
	}
	return platforms
}

// PublishAll delivers the payload to each requested platform with bounded
// concurrency. Every platform gets a result; a failure on one platform never
// cancels the others, so the goroutines always report nil and failures
// travel in the result map.
func (m *Manager) PublishAll(ctx context.Context, content *PublishContent, platforms []models.Platform) map[models.Platform]*PublishResult {
	results := make(map[models.Platform]*PublishResult, len(platforms))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPublishes)

	for _, platform := range platforms {
		platform := platform
		g.Go(func() error {
			result := m.publishOne(ctx, platform, content)
			mu.Lock()
			results[platform] = result
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return results
}

func (m *Manager) publishOne(ctx context.Context, platform models.Platform, content *PublishContent) *PublishResult {
	publisher, err := m.Get(platform)
	if err != nil {
		m.logger.Error("Publisher not found",
			zap.String("platform", string(platform)),
			zap.Error(err))
		return &PublishResult{Success: false, Error: err, PublishedAt: time.Now()}
	}

	result, err := publisher.Publish(ctx, content)
	if err != nil {
		m.logger.Error("Failed to publish content",
			zap.String("platform", string(platform)),
			zap.String("content_id", content.ID),
			zap.Error(err))
		return &PublishResult{Success: false, Error: err, PublishedAt: time.Now()}
	}

	m.logger.Info("Publishing completed",
		zap.String("platform", string(platform)),
		zap.Bool("success", result.Success),
		zap.String("publish_id", result.PublishID))
	return result
}
