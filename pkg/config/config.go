package config

import (
	"errors"
	"fmt"
	"time"
)

// Merge definition merge_service YAML structure
type Merge struct {
	Port        string `mapstructure:"port"`
	IP          string `mapstructure:"ip"`
	BodyLimitMB int    `mapstructure:"body_limit_mb"`
	PprofAddr   string `mapstructure:"pprof_addr"`

	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Publish   PublishConfig   `mapstructure:"publish"`

	MinIO      MinIOConfig    `mapstructure:"minio"`
	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Events     EventsConfig   `mapstructure:"events"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
}

// FFmpegConfig definition engine binaries
type FFmpegConfig struct {
	Path      string `mapstructure:"path"`
	ProbePath string `mapstructure:"probe_path"`
	LogLevel  string `mapstructure:"log_level"`
}

// WorkspaceConfig definition scratch area
type WorkspaceConfig struct {
	Root       string        `mapstructure:"root"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// NormalizeConfig definition normalization fan-out
type NormalizeConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// PublishConfig definition where merged outputs go
type PublishConfig struct {
	Driver        string        `mapstructure:"driver"` // "local" 或 "minio"
	OutputDir     string        `mapstructure:"output_dir"`
	PublicPrefix  string        `mapstructure:"public_prefix"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	BucketName    string        `mapstructure:"bucket_name"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	MasterName string        `mapstructure:"master_name"`
	Sentinels  []string      `mapstructure:"sentinels"`
	RedisDB    int           `mapstructure:"redis_db"`
	StatusTTL  time.Duration `mapstructure:"status_ttl"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
	// SQLitePath job store used when postgres is disabled, empty keeps no history
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DSN builds the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		d.Host, d.User, d.Password, d.Database, d.Port)
}

// EventsConfig definition job event sink
type EventsConfig struct {
	Driver string `mapstructure:"driver"` // "none", "rabbitmq" 或 "kafka"
	Queue  string `mapstructure:"queue"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP            string        `mapstructure:"ip"`
	Port          string        `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// URL builds the amqp url
func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.IP, r.Port)
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// MergeDefaults default values for the merge service
func MergeDefaults() map[string]any {
	return map[string]any{
		"port":                    "8085",
		"ip":                      "0.0.0.0",
		"body_limit_mb":           2048,
		"pprof_addr":              "localhost:6060",
		"ffmpeg.path":             "ffmpeg",
		"ffmpeg.probe_path":       "ffprobe",
		"ffmpeg.log_level":        "error",
		"workspace.root":          "./tmp/merge",
		"workspace.stale_after":   6 * time.Hour,
		"normalize.concurrency":   0,
		"publish.driver":          "local",
		"publish.output_dir":      "./public/merged",
		"publish.public_prefix":   "/merged",
		"publish.presign_expiry":  time.Hour,
		"minio.retry_count":       5,
		"minio.retry_interval":    2,
		"pg.retry_count":          5,
		"pg.retry_interval":       2,
		"pg.sqlite_path":          "./tmp/merge_jobs.db",
		"redis.master_name":       "mymaster",
		"redis.status_ttl":        24 * time.Hour,
		"events.driver":           "none",
		"events.queue":            "merge_events",
		"rabbitmq.retry_count":    5,
		"rabbitmq.retry_interval": 2,
		"kafka.retry_count":       5,
		"kafka.retry_interval":    2,
	}
}

// Validate checks the merge config for values the service cannot run with
func (m Merge) Validate() error {
	var errs []error
	if m.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if m.Workspace.Root == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}
	if m.Normalize.Concurrency < 0 {
		errs = append(errs, errors.New("normalize.concurrency must not be negative"))
	}
	switch m.Publish.Driver {
	case "local":
		if m.Publish.OutputDir == "" {
			errs = append(errs, errors.New("publish.output_dir is required for the local driver"))
		}
	case "minio":
		if m.MinIO.Host == "" || m.MinIO.BucketName == "" {
			errs = append(errs, errors.New("minio.host and minio.bucket_name are required for the minio driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown publish.driver %q", m.Publish.Driver))
	}
	switch m.Events.Driver {
	case "", "none":
	case "rabbitmq":
		if m.RabbitMQ.IP == "" {
			errs = append(errs, errors.New("rabbitmq.ip is required for the rabbitmq event driver"))
		}
	case "kafka":
		if len(m.Kafka.Brokers) == 0 || m.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.brokers and kafka.topic are required for the kafka event driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown events.driver %q", m.Events.Driver))
	}
	if m.Redis.Enabled && m.Redis.Addr == "" && len(m.Redis.Sentinels) == 0 {
		errs = append(errs, errors.New("redis.addr or redis.sentinels is required when redis is enabled"))
	}
	return errors.Join(errs...)
}
