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
const DefaultConfigFile = "researchflow.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
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
	setString(&cfg.Server.Port, "RESEARCHFLOW_PORT")
	setString(&cfg.Server.CORSOrigin, "RESEARCHFLOW_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "RESEARCHFLOW_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "RESEARCHFLOW_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "RESEARCHFLOW_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "RESEARCHFLOW_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "RESEARCHFLOW_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.Model, "RESEARCHFLOW_OPENAI_MODEL")
	setString(&cfg.OpenAI.EmbeddingModel, "RESEARCHFLOW_EMBEDDING_MODEL")

	setString(&cfg.Search.APIKey, "GOOGLE_SEARCH_API_KEY")
	setString(&cfg.Search.EngineID, "GOOGLE_SEARCH_ENGINE_ID")
	setInt(&cfg.Search.ResultsLimit, "RESEARCHFLOW_SEARCH_RESULTS_LIMIT")
	setInt(&cfg.Search.MaxRelevantResults, "RESEARCHFLOW_SEARCH_MAX_RELEVANT")
	setInt(&cfg.Search.MaxSearchCycles, "RESEARCHFLOW_SEARCH_MAX_CYCLES")
	setFloat64(&cfg.Search.LinkRelevanceThreshold, "RESEARCHFLOW_LINK_THRESHOLD")
	setFloat64(&cfg.Search.ContentRelevanceThreshold, "RESEARCHFLOW_CONTENT_THRESHOLD")
	setInt64(&cfg.Search.CacheSizeMB, "RESEARCHFLOW_SEARCH_CACHE_MB")
	setDuration(&cfg.Search.FetchTimeout, "RESEARCHFLOW_SEARCH_FETCH_TIMEOUT")

	setInt(&cfg.RAG.ChunkSize, "RESEARCHFLOW_RAG_CHUNK_SIZE")
	setInt(&cfg.RAG.TopK, "RESEARCHFLOW_RAG_TOP_K")

	setInt(&cfg.Runner.MaxConcurrentRuns, "RESEARCHFLOW_MAX_CONCURRENT_RUNS")
	setDuration(&cfg.Runner.TaskPause, "RESEARCHFLOW_TASK_PAUSE")
	setInt(&cfg.Runner.LogRetentionLines, "RESEARCHFLOW_LOG_RETENTION_LINES")

	setString(&cfg.Logging.Level, "RESEARCHFLOW_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RESEARCHFLOW_LOG_SERVICE")

	setInt(&cfg.Breaker.MaxFailures, "RESEARCHFLOW_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "RESEARCHFLOW_BREAKER_TIMEOUT")

	setBool(&cfg.OTel.Enabled, "RESEARCHFLOW_OTEL_ENABLED")
	setString(&cfg.OTel.Endpoint, "RESEARCHFLOW_OTEL_ENDPOINT")
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
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Search.MaxSearchCycles < 1 {
		return errors.New("search.max_search_cycles must be >= 1")
	}
	if cfg.Runner.MaxConcurrentRuns < 0 {
		return errors.New("runner.max_concurrent_runs must be >= 0")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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
