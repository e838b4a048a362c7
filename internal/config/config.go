package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/slotline/slotline/pkg/logger"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Logger        logger.Config       `yaml:"logger"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Optimizer     OptimizerConfig     `yaml:"optimizer"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	Publisher     PublisherConfig     `yaml:"publisher"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	Path     string `yaml:"path"` // sqlite only
}

type SchedulerConfig struct {
	MaxWorkers     int    `yaml:"max_workers"`
	QueueSize      int    `yaml:"queue_size"`
	MisfireGrace   string `yaml:"misfire_grace"`
	HealthInterval string `yaml:"health_interval"`
	StatsInterval  string `yaml:"stats_interval"`
	Timezone       string `yaml:"timezone"`
}

type OptimizerConfig struct {
	MinGapMinutes  int `yaml:"min_gap_minutes"`
	SearchDays     int `yaml:"search_days"`
	ClusterWindow  int `yaml:"cluster_window_hours"`
	ClusterMaximum int `yaml:"cluster_maximum"`
}

type NotificationsConfig struct {
	RatePerMinute int            `yaml:"rate_per_minute"`
	Email         EmailConfig    `yaml:"email"`
	Slack         SlackConfig    `yaml:"slack"`
	Webhook       WebhookConfig  `yaml:"webhook"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

type CalendarConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
}

type PublisherConfig struct {
	DryRun    bool              `yaml:"dry_run"`
	Secret    string            `yaml:"secret"`
	Endpoints map[string]string `yaml:"endpoints"` // platform name -> webhook URL
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5874
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "slotline.db"
	}
	if cfg.Scheduler.MaxWorkers == 0 {
		cfg.Scheduler.MaxWorkers = 4
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 256
	}
	if cfg.Scheduler.MisfireGrace == "" {
		cfg.Scheduler.MisfireGrace = "5m"
	}
	if cfg.Scheduler.HealthInterval == "" {
		cfg.Scheduler.HealthInterval = "1m"
	}
	if cfg.Scheduler.StatsInterval == "" {
		cfg.Scheduler.StatsInterval = "1h"
	}
	if cfg.Optimizer.MinGapMinutes == 0 {
		cfg.Optimizer.MinGapMinutes = 30
	}
	if cfg.Optimizer.SearchDays == 0 {
		cfg.Optimizer.SearchDays = 3
	}
	if cfg.Optimizer.ClusterWindow == 0 {
		cfg.Optimizer.ClusterWindow = 2
	}
	if cfg.Optimizer.ClusterMaximum == 0 {
		cfg.Optimizer.ClusterMaximum = 3
	}
	if cfg.Notifications.RatePerMinute == 0 {
		cfg.Notifications.RatePerMinute = 30
	}
	if cfg.Notifications.Email.Port == 0 {
		cfg.Notifications.Email.Port = 587
	}

	return cfg, nil
}
