package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/config"
	"github.com/slotline/slotline/internal/models"
	"github.com/slotline/slotline/internal/service/publisher"
)

// PublisherService turns one schedule firing into per-platform publishes and
// persists an audit record per platform.
type PublisherService struct {
	logger            *zap.Logger
	config            *config.PublisherConfig
	store             *Store
	manager           *publisher.Manager
	monitoringService *MonitoringService
}

func NewPublisherService(cfg *config.PublisherConfig, store *Store, monitoring *MonitoringService, logger *zap.Logger) *PublisherService {
	service := &PublisherService{
		logger:            logger,
		config:            cfg,
		store:             store,
		manager:           publisher.NewManager(logger),
		monitoringService: monitoring,
	}

	service.registerPublishers()

	return service
}

// registerPublishers wires every known platform: a webhook sink when an
// endpoint is configured and dry-run is off, the log sink otherwise.
func (s *PublisherService) registerPublishers() {
	for _, platform := range models.AllPlatforms {
		endpoint := s.config.Endpoints[string(platform)]

		var pub publisher.Publisher
		if endpoint != "" && !s.config.DryRun {
			pub = publisher.NewWebhookPublisher(platform, endpoint, s.config.Secret, s.logger)
		} else {
			pub = publisher.NewLogPublisher(platform, s.logger)
		}

		if err := s.manager.Register(pub); err != nil {
			s.logger.Error("Failed to register publisher",
				zap.String("platform", string(platform)),
				zap.Error(err))
		}
	}
}

// Publish delivers the item to each target platform and writes one
// PublishRecord per platform. Any platform failure makes the whole firing a
// failure; the returned error aggregates every failed platform.
func (s *PublisherService) Publish(ctx context.Context, schedule *models.Schedule, item *models.ContentItem, platforms []models.Platform) error {
	if len(platforms) == 0 {
		return fmt.Errorf("content item %d has no valid target platforms", item.ID)
	}

	s.logger.Info("Publishing content",
		zap.Uint("schedule_id", schedule.ID),
		zap.Uint("content_item_id", item.ID),
		zap.String("title", item.Title),
		zap.Int("platforms", len(platforms)))

	content := publisher.FromContentItem(item, schedule.ScheduledTime)
	results := s.manager.PublishAll(ctx, content, platforms)

	records := make([]models.PublishRecord, 0, len(platforms))
	var errs error
	succeeded := 0

	for _, platform := range platforms {
		result := results[platform]
		if result == nil {
			result = &publisher.PublishResult{
				Success: false,
				Error:   fmt.Errorf("no result for platform %s", platform),
			}
		}

		record := models.PublishRecord{
			ScheduleID: schedule.ID,
			Platform:   string(platform),
			Success:    result.Success,
		}

		if result.Success {
			succeeded++
			publishedAt := result.PublishedAt
			if publishedAt.IsZero() {
				publishedAt = time.Now()
			}
			record.PublishedAt = &publishedAt
			record.Detail = publishDetail(result)

			s.monitoringService.RecordMetric("publish_success", "counter", 1, map[string]interface{}{
				"platform":    string(platform),
				"schedule_id": schedule.ID,
			})
		} else {
			platformErr := &PlatformError{Platform: string(platform), Err: result.Error}
			record.Error = platformErr.Error()
			errs = multierr.Append(errs, platformErr)

			s.monitoringService.RecordMetric("publish_failure", "counter", 1, map[string]interface{}{
				"platform":    string(platform),
				"schedule_id": schedule.ID,
			})
			s.monitoringService.RecordError("error", "publisher",
				fmt.Sprintf("Failed to publish to %s", platform), record.Error,
				WithPlatform(string(platform)),
				WithSchedule(schedule.ID),
				WithContentItem(item.ID),
				WithContext(map[string]interface{}{
					"title": item.Title,
				}))
		}

		records = append(records, record)
	}

	if err := s.store.CreatePublishRecords(records); err != nil {
		s.logger.Error("Failed to persist publish records",
			zap.Uint("schedule_id", schedule.ID),
			zap.Error(err))
	}

	if errs != nil {
		return fmt.Errorf("published to %d/%d platforms: %w", succeeded, len(platforms), errs)
	}
	return nil
}

func publishDetail(result *publisher.PublishResult) string {
	switch {
	case result.URL != "":
		return result.URL
	case result.PublishID != "":
		return result.PublishID
	default:
		return ""
	}
}

// GetPublishHistory returns the per-platform publish records of a schedule.
func (s *PublisherService) GetPublishHistory(scheduleID uint) ([]models.PublishRecord, error) {
	return s.store.ListPublishRecords(scheduleID)
}

// AvailablePlatforms lists every platform with a registered publisher.
func (s *PublisherService) AvailablePlatforms() []models.Platform {
	return s.manager.Platforms()
}
