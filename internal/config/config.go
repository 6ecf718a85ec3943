package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (trigger rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Trigger auth
	TriggerSecret string

	// Outbound webhook (the single automation endpoint)
	WebhookURL     string
	WebhookTimeout int // per-item delivery timeout in seconds

	// Batch/dispatch tuning
	BatchLimit          int
	MaxRetries          int
	BackoffBaseMinutes  int
	BackoffCapMinutes   int
	PollIntervalSeconds int // 0 disables the timed trigger
	StaleReclaimMinutes int // 0 disables the stuck-processing reclaim pass

	// AWS SNS ops alerts on terminal failures
	AWSRegion     string
	AlertTopicARN string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "postdispatch",
		DBPassword: "",
		DBName:     "postdispatch",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		WebhookTimeout: 30,

		BatchLimit:          20,
		MaxRetries:          3,
		BackoffBaseMinutes:  5,
		BackoffCapMinutes:   60,
		PollIntervalSeconds: 60,
		StaleReclaimMinutes: 15,

		AWSRegion: "us-east-1",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	cfg.TriggerSecret = os.Getenv("TRIGGER_SECRET")
	if cfg.TriggerSecret == "" {
		return nil, fmt.Errorf("TRIGGER_SECRET is required")
	}

	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("WEBHOOK_URL is required")
	}

	if timeout := os.Getenv("WEBHOOK_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = t
	}

	if limit := os.Getenv("BATCH_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid BATCH_LIMIT: %w", err)
		}
		cfg.BatchLimit = l
	}

	if retries := os.Getenv("MAX_RETRIES"); retries != "" {
		r, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = r
	}

	if base := os.Getenv("BACKOFF_BASE_MINUTES"); base != "" {
		b, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKOFF_BASE_MINUTES: %w", err)
		}
		cfg.BackoffBaseMinutes = b
	}

	if cap := os.Getenv("BACKOFF_CAP_MINUTES"); cap != "" {
		c, err := strconv.Atoi(cap)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKOFF_CAP_MINUTES: %w", err)
		}
		cfg.BackoffCapMinutes = c
	}

	if interval := os.Getenv("POLL_INTERVAL_SECONDS"); interval != "" {
		i, err := strconv.Atoi(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_SECONDS: %w", err)
		}
		cfg.PollIntervalSeconds = i
	}

	if stale := os.Getenv("STALE_RECLAIM_MINUTES"); stale != "" {
		s, err := strconv.Atoi(stale)
		if err != nil {
			return nil, fmt.Errorf("invalid STALE_RECLAIM_MINUTES: %w", err)
		}
		cfg.StaleReclaimMinutes = s
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if arn := os.Getenv("ALERT_TOPIC_ARN"); arn != "" {
		cfg.AlertTopicARN = arn
	}

	return cfg, nil
}
