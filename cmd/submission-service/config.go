package main

import (
	"fmt"
	"os"
	"time"

	"gradehub/internal/common/cache"
	"gradehub/internal/common/db"
	"gradehub/internal/common/mq"
	"gradehub/internal/common/storage"
	"gradehub/internal/submission/service"
	"gradehub/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8088"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// SubmissionConfig holds lifecycle engine settings.
type SubmissionConfig struct {
	JobTopic         string                  `yaml:"jobTopic"`
	ResultToken      string                  `yaml:"resultToken"`
	DefaultLanguage  string                  `yaml:"defaultLanguage"`
	DefaultUserID    string                  `yaml:"defaultUserID"`
	ArchiveBucket    string                  `yaml:"archiveBucket"`
	ArchiveKeyPrefix string                  `yaml:"archiveKeyPrefix"`
	MaxCodeBytes     int                     `yaml:"maxCodeBytes"`
	IdempotencyTTL   time.Duration           `yaml:"idempotencyTTL"`
	RateLimit        service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts         service.TimeoutConfig   `yaml:"timeouts"`
}

// AppConfig holds submission-service configuration.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	Logger     logger.Config       `yaml:"logger"`
	Database   db.MySQLConfig      `yaml:"database"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	Kafka      mq.KafkaConfig      `yaml:"kafka"`
	MinIO      storage.MinIOConfig `yaml:"minio"`
	Submission SubmissionConfig    `yaml:"submission"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	if cfg.Submission.JobTopic == "" {
		cfg.Submission.JobTopic = "grading.jobs"
	}
	if cfg.Submission.ResultToken == "" {
		cfg.Submission.ResultToken = os.Getenv("RESULT_TOKEN")
	}
	if cfg.Submission.ResultToken == "" {
		cfg.Submission.ResultToken = "secret"
	}
	if cfg.Submission.DefaultLanguage == "" {
		cfg.Submission.DefaultLanguage = "python"
	}
	if cfg.Submission.DefaultUserID == "" {
		cfg.Submission.DefaultUserID = "demo-user"
	}
	if cfg.Submission.ArchiveBucket == "" {
		cfg.Submission.ArchiveBucket = cfg.MinIO.Bucket
	}
	if cfg.Submission.MaxCodeBytes == 0 {
		cfg.Submission.MaxCodeBytes = 256 * 1024
	}
	if cfg.Submission.IdempotencyTTL == 0 {
		cfg.Submission.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Submission.RateLimit.Window == 0 {
		cfg.Submission.RateLimit.Window = time.Minute
	}
	if cfg.Submission.Timeouts.Store == 0 {
		cfg.Submission.Timeouts.Store = 3 * time.Second
	}
	if cfg.Submission.Timeouts.Cache == 0 {
		cfg.Submission.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Submission.Timeouts.Queue == 0 {
		cfg.Submission.Timeouts.Queue = 3 * time.Second
	}
	if cfg.Submission.Timeouts.Storage == 0 {
		cfg.Submission.Timeouts.Storage = 5 * time.Second
	}

	return &cfg, nil
}
