package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Images   ImagesConfig   `yaml:"images"`
	Vision   VisionConfig   `yaml:"vision"`
	Detector DetectorConfig `yaml:"detector"`
	Geocode  GeocodeConfig  `yaml:"geocode"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Display  DisplayConfig  `yaml:"display"`
	Registry RegistryConfig `yaml:"registry"`
	Ranking  RankingConfig  `yaml:"ranking"`
}

type APIConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RequireAuth    bool     `yaml:"require_auth"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

type StorageConfig struct {
	Driver           string        `yaml:"driver"` // sqlite or postgres
	DSN              string        `yaml:"dsn"`
	PayloadRetention time.Duration `yaml:"payload_retention"`
}

type ImagesConfig struct {
	Dir string `yaml:"dir"`
}

type VisionConfig struct {
	Enabled bool          `yaml:"enabled"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type DetectorConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type GeocodeConfig struct {
	Enabled bool `yaml:"enabled"`
}

type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	ChangesTopic     string   `yaml:"changes_topic"`
	InspectionsTopic string   `yaml:"inspections_topic"`
	GroupID          string   `yaml:"group_id"`
}

type DisplayConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"client_id"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type RegistryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`
	Schedule string `yaml:"schedule"` // cron expression
}

type RankingConfig struct {
	MaxAlternatives int     `yaml:"max_alternatives"`
	NearbyRadiusKM  float64 `yaml:"nearby_radius_km"`
	OperationalOnly bool    `yaml:"operational_only"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		API: APIConfig{
			Addr:           ":8000",
			AllowedOrigins: []string{"*"},
			MaxUploadBytes: 10 << 20,
		},
		Storage: StorageConfig{
			Driver:           "sqlite",
			DSN:              "data/sanitrack.db",
			PayloadRetention: 90 * 24 * time.Hour,
		},
		Images:  ImagesConfig{Dir: "data/images"},
		Vision:  VisionConfig{Model: "gpt-4o-mini", Timeout: time.Minute},
		Detector: DetectorConfig{
			URL:     "http://localhost:8001/detect",
			Timeout: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			ChangesTopic:     "sanitrack.changes",
			InspectionsTopic: "sanitrack.inspections",
			GroupID:          "sanitrack",
		},
		Display: DisplayConfig{
			Broker:          "tcp://localhost:1883",
			ClientID:        "sanitrack",
			TopicPrefix:     "sanitrack/display",
			RefreshInterval: 10 * time.Second,
		},
		Registry: RegistryConfig{
			User:     "anonymous",
			Password: "anonymous",
			Schedule: "0 3 * * *",
		},
		Ranking: RankingConfig{
			MaxAlternatives: 2,
			NearbyRadiusKM:  2,
			OperationalOnly: true,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, errors.New("config file is empty")
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.PayloadRetention <= 0 {
		cfg.Storage.PayloadRetention = 90 * 24 * time.Hour
	}
	if cfg.API.MaxUploadBytes <= 0 {
		cfg.API.MaxUploadBytes = 10 << 20
	}
	if cfg.Display.RefreshInterval <= 0 {
		cfg.Display.RefreshInterval = 10 * time.Second
	}
	if cfg.Ranking.MaxAlternatives <= 0 {
		cfg.Ranking.MaxAlternatives = 2
	}
	if cfg.Ranking.NearbyRadiusKM <= 0 {
		cfg.Ranking.NearbyRadiusKM = 2
	}
	if cfg.Vision.Timeout <= 0 {
		cfg.Vision.Timeout = time.Minute
	}
	if cfg.Detector.Timeout <= 0 {
		cfg.Detector.Timeout = 30 * time.Second
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return errors.New("api.addr required")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q unsupported", cfg.Storage.Driver)
	}
	if cfg.Detector.Enabled && cfg.Detector.URL == "" {
		return errors.New("detector.url required when detector.enabled is true")
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.ChangesTopic == "" {
			return errors.New("kafka requires brokers and changes_topic")
		}
	}
	if cfg.Display.Enabled && cfg.Display.Broker == "" {
		return errors.New("display.broker required when display.enabled is true")
	}
	if cfg.Registry.Enabled && (cfg.Registry.Host == "" || cfg.Registry.Path == "") {
		return errors.New("registry requires host and path")
	}
	return nil
}
