package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/storage"
	"judgeflow/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	queueModeChannel = "channel"
	queueModeKafka   = "kafka"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// DatabaseConfig holds MySQL settings.
type DatabaseConfig struct {
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}

func (c DatabaseConfig) toDBConfig() *db.MySQLConfig {
	cfg := db.DefaultMySQLConfig()
	cfg.DSN = c.DSN
	if c.MaxOpenConnections > 0 {
		cfg.MaxOpenConnections = c.MaxOpenConnections
	}
	if c.MaxIdleConnections > 0 {
		cfg.MaxIdleConnections = c.MaxIdleConnections
	}
	if c.ConnMaxLifetime > 0 {
		cfg.ConnMaxLifetime = c.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime > 0 {
		cfg.ConnMaxIdleTime = c.ConnMaxIdleTime
	}
	return cfg
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) toCacheConfig() *cache.RedisConfig {
	cfg := cache.DefaultRedisConfig()
	cfg.Addr = c.Addr
	cfg.Password = c.Password
	cfg.DB = c.DB
	return cfg
}

// KafkaConfig holds Kafka settings for the kafka queue mode.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	RequiredAcks int           `yaml:"requiredAcks"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	MinBytes     int           `yaml:"minBytes"`
	MaxBytes     int           `yaml:"maxBytes"`
	MaxWait      time.Duration `yaml:"maxWait"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		DialTimeout:  k.DialTimeout,
	}
}

// QueueConfig selects and configures the judge queue backend.
type QueueConfig struct {
	// Mode is "channel" (in-process) or "kafka".
	Mode     string      `yaml:"mode"`
	Topic    string      `yaml:"topic"`
	Capacity int         `yaml:"capacity"`
	Kafka    KafkaConfig `yaml:"kafka"`
}

// JudgeConfig holds grading settings.
type JudgeConfig struct {
	WorkRoot       string        `yaml:"workRoot"`
	PoolSize       int           `yaml:"poolSize"`
	RunAllSamples  bool          `yaml:"runAllSamples"`
	Timeout        time.Duration `yaml:"timeout"`
	OutputMaxBytes int64         `yaml:"outputMaxBytes"`
	CompileTimeout time.Duration `yaml:"compileTimeout"`
}

// SubmitConfig holds intake settings.
type SubmitConfig struct {
	MaxCodeBytes int           `yaml:"maxCodeBytes"`
	Cooldown     time.Duration `yaml:"cooldown"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// AppConfig holds judge-server config.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database DatabaseConfig      `yaml:"database"`
	Redis    RedisConfig         `yaml:"redis"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Queue    QueueConfig         `yaml:"queue"`
	Judge    JudgeConfig         `yaml:"judge"`
	Submit   SubmitConfig        `yaml:"submit"`
	Auth     AuthConfig          `yaml:"auth"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.MinIO.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwtSecret is required")
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
	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = filepath.Join(os.TempDir(), "judgeflow")
	}
	switch cfg.Queue.Mode {
	case "":
		cfg.Queue.Mode = queueModeChannel
	case queueModeChannel:
	case queueModeKafka:
		if len(cfg.Queue.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka brokers are required in kafka queue mode")
		}
	default:
		return nil, fmt.Errorf("unknown queue mode: %s", cfg.Queue.Mode)
	}
	return &cfg, nil
}
