package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "ENGLISH_CHECK"

type Config struct {
	Server    ServerConfig
	Webhook   WebhookConfig
	Upload    UploadConfig
	Jobs      JobsConfig
	Redis     RedisConfig
	History   HistoryConfig
	Archive   ArchiveConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	StaticDir      string
	AllowedOrigins string
	IsDevelopment  bool
}

type WebhookConfig struct {
	URL            string
	TimeoutSec     int
	Mode           string
	CircuitBreaker CircuitBreakerConfig
}

type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	OpenTimeoutSec   int
}

type UploadConfig struct {
	MaxSizeBytes    int64
	MinDurationSec  int
	MaxDurationSec  int
	EnforceDuration bool
}

type JobsConfig struct {
	Store                string
	Workers              int
	QueueSize            int
	TTLMinutes           int
	PruneIntervalMinutes int
	MaxAttempts          int
	MockStatus           bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type HistoryConfig struct {
	Enabled       bool
	Path          string
	RetentionDays int
}

type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSec) * time.Second
}

func (j JobsConfig) TTL() time.Duration {
	return time.Duration(j.TTLMinutes) * time.Minute
}

func (u UploadConfig) MinDuration() time.Duration {
	return time.Duration(u.MinDurationSec) * time.Second
}

func (u UploadConfig) MaxDuration() time.Duration {
	return time.Duration(u.MaxDurationSec) * time.Second
}

// Load reads config.yaml (if any), then ENGLISH_CHECK_* environment
// variables, on top of the defaults below.
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith is Load on a caller-supplied viper instance, so command-line flags
// bound with BindPFlags take precedence over file and environment values.
func LoadWith(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/english-check")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url must be set")
	}
	switch c.Webhook.Mode {
	case "sync", "async":
	default:
		return fmt.Errorf("webhook.mode must be sync or async, got %q", c.Webhook.Mode)
	}
	switch c.Jobs.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("jobs.store must be memory or redis, got %q", c.Jobs.Store)
	}
	if c.Upload.MinDurationSec > c.Upload.MaxDurationSec {
		return fmt.Errorf("upload.minDurationSec (%d) exceeds upload.maxDurationSec (%d)",
			c.Upload.MinDurationSec, c.Upload.MaxDurationSec)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be at least 1")
	}
	return nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.readTimeout", 60)
	v.SetDefault("server.writeTimeout", 150)
	// multipart overhead on top of upload.maxSizeBytes
	v.SetDefault("server.bodyLimit", 52*1024*1024)
	v.SetDefault("server.staticDir", "")
	v.SetDefault("server.allowedOrigins", "http://localhost:3000,http://127.0.0.1:3000")
	v.SetDefault("server.isDevelopment", true)

	v.SetDefault("webhook.url", "https://tauga.app.n8n.cloud/webhook/english-test")
	v.SetDefault("webhook.timeoutSec", 120)
	v.SetDefault("webhook.mode", "sync")
	v.SetDefault("webhook.circuitBreaker.enabled", true)
	v.SetDefault("webhook.circuitBreaker.failureThreshold", 5)
	v.SetDefault("webhook.circuitBreaker.openTimeoutSec", 30)

	v.SetDefault("upload.maxSizeBytes", 50*1024*1024)
	v.SetDefault("upload.minDurationSec", 20)
	v.SetDefault("upload.maxDurationSec", 90)
	v.SetDefault("upload.enforceDuration", true)

	v.SetDefault("jobs.store", "memory")
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queueSize", 64)
	v.SetDefault("jobs.ttlMinutes", 60)
	v.SetDefault("jobs.pruneIntervalMinutes", 10)
	v.SetDefault("jobs.maxAttempts", 1)
	v.SetDefault("jobs.mockStatus", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "./data/english-check.db")
	v.SetDefault("history.retentionDays", 30)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "localhost:9000")
	v.SetDefault("archive.accessKeyID", "")
	v.SetDefault("archive.secretAccessKey", "")
	v.SetDefault("archive.bucket", "english-check-audio")
	v.SetDefault("archive.useSSL", false)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerMinute", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
