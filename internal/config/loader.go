package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "taskline.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TASKLINE_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKLINE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TASKLINE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TASKLINE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TASKLINE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TASKLINE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TASKLINE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLM.URL, "TASKLINE_LLM_URL")
	setString(&cfg.LLM.APIKey, "TASKLINE_LLM_API_KEY")
	setString(&cfg.LLM.Model, "TASKLINE_LLM_MODEL")
	setFloat64(&cfg.LLM.Temperature, "TASKLINE_LLM_TEMPERATURE")
	setInt(&cfg.LLM.MaxTokens, "TASKLINE_LLM_MAX_TOKENS")
	setDuration(&cfg.LLM.Timeout, "TASKLINE_LLM_TIMEOUT")
	setString(&cfg.Logging.Level, "TASKLINE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKLINE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "TASKLINE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKLINE_BREAKER_TIMEOUT")
	setInt(&cfg.Chat.HistoryLimit, "TASKLINE_CHAT_HISTORY_LIMIT")
	setInt(&cfg.Chat.MessagesForTitle, "TASKLINE_CHAT_MESSAGES_FOR_TITLE")
	setDuration(&cfg.Maintenance.Interval, "TASKLINE_MAINTENANCE_INTERVAL")
	setInt(&cfg.Maintenance.PregenBatch, "TASKLINE_MAINTENANCE_PREGEN_BATCH")
	setInt(&cfg.Maintenance.PregenConcurrency, "TASKLINE_MAINTENANCE_PREGEN_CONCURRENCY")
	setInt64(&cfg.Cache.MaxSizeMB, "TASKLINE_CACHE_MAX_SIZE_MB")
	setDuration(&cfg.Cache.ThreadListTTL, "TASKLINE_CACHE_THREAD_LIST_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.LLM.URL == "" {
		return errors.New("llm.url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Chat.HistoryLimit < 1 {
		return errors.New("chat.history_limit must be >= 1")
	}
	if cfg.Maintenance.Interval < time.Second {
		return errors.New("maintenance.interval must be >= 1s")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
