package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// StringArray represents a PostgreSQL text[] type. SQLite stores the same
// encoded form as plain text, so both drivers round-trip through Scan/Value.
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		// Handle PostgreSQL array format: {value1,value2,value3}
		if v == "{}" || v == "" {
			*s = StringArray{}
			return nil
		}

		trimmed := strings.Trim(v, "{}")
		if trimmed == "" {
			*s = StringArray{}
			return nil
		}

		parts := strings.Split(trimmed, ",")
		result := make([]string, len(parts))
		for i, part := range parts {
			result[i] = strings.Trim(strings.TrimSpace(part), "\"")
		}
		*s = result
		return nil
	case []byte:
		// Try to parse as JSON first
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			*s = arr
			return nil
		}
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}

	quoted := make([]string, len(s))
	for i, v := range s {
		escaped := strings.ReplaceAll(v, "\"", "\\\"")
		quoted[i] = fmt.Sprintf("\"%s\"", escaped)
	}

	return fmt.Sprintf("{%s}", strings.Join(quoted, ",")), nil
}

// ContentType is the canonical content classification shared by the
// validator, conflict resolver, optimizer and store.
type ContentType string

const (
	ContentTypeBlogPost    ContentType = "blog_post"
	ContentTypeSocialMedia ContentType = "social_media"
	ContentTypeVideo       ContentType = "video"
	ContentTypeNewsletter  ContentType = "newsletter"
	ContentTypeArticle     ContentType = "article"
	ContentTypeImage       ContentType = "image"
)

// AllContentTypes lists every known content type.
var AllContentTypes = []ContentType{
	ContentTypeBlogPost,
	ContentTypeSocialMedia,
	ContentTypeVideo,
	ContentTypeNewsletter,
	ContentTypeArticle,
	ContentTypeImage,
}

func (c ContentType) Valid() bool {
	for _, t := range AllContentTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Platform is a publishing destination.
type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
)

// AllPlatforms lists every known platform.
var AllPlatforms = []Platform{
	PlatformLinkedIn,
	PlatformTwitter,
	PlatformFacebook,
	PlatformInstagram,
	PlatformYouTube,
}

func (p Platform) Valid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// ContentStatus tracks the content item's own lifecycle, independent of any
// schedule referencing it.
type ContentStatus string

const (
	ContentStatusDraft     ContentStatus = "draft"
	ContentStatusScheduled ContentStatus = "scheduled"
	ContentStatusPublished ContentStatus = "published"
	ContentStatusArchived  ContentStatus = "archived"
)

// ContentItem is one publishable unit. The scheduler reads these rows but
// never mutates them; creation and deletion go through the content API.
type ContentItem struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"not null;size:500" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Content     string         `gorm:"type:text" json:"content"`
	ContentType ContentType    `gorm:"size:50;not null;index" json:"content_type"`
	Platforms   StringArray    `gorm:"type:text[]" json:"platforms"`
	Status      ContentStatus  `gorm:"size:50;default:'draft'" json:"status"`
	Tags        StringArray    `gorm:"type:text[]" json:"tags"`
	AltText     string         `gorm:"size:500" json:"alt_text"`
	SEOData     string         `gorm:"type:jsonb" json:"seo_data"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// PlatformList converts the stored platform strings into typed platforms,
// dropping anything unknown.
func (c *ContentItem) PlatformList() []Platform {
	platforms := make([]Platform, 0, len(c.Platforms))
	for _, raw := range c.Platforms {
		p := Platform(strings.ToLower(strings.TrimSpace(raw)))
		if p.Valid() {
			platforms = append(platforms, p)
		}
	}
	return platforms
}
