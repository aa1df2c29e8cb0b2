package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/envutil"
)

type StorageBackend string

const (
	BackendLocal StorageBackend = "local"
	BackendCloud StorageBackend = "cloud"
)

// Config is assembled once at startup and treated as immutable afterwards.
type Config struct {
	LogMode     string   `yaml:"log_mode"`
	HTTPPort    string   `yaml:"http_port"`
	CORSOrigins []string `yaml:"cors_origins"`

	StorageBackend  StorageBackend `yaml:"storage_backend"`
	StorageBasePath string         `yaml:"storage_base_path"`
	BucketName      string         `yaml:"bucket_name"`

	Provider         string `yaml:"provider"`
	ModelFast        string `yaml:"model_fast"`
	ModelBase        string `yaml:"model_base"`
	ModelLongContext string `yaml:"model_long_context"`
	EmbedModel       string `yaml:"embed_model"`

	NumSearchQueries   int    `yaml:"num_search_queries"`
	QuestionVStorePath string `yaml:"question_vstore_path"`
	ExampleCSVPath     string `yaml:"example_csv_path"`

	RunnerTimeout time.Duration `yaml:"-"`
	NodeBin       string        `yaml:"node_bin"`
	PythonBin     string        `yaml:"python_bin"`
}

// Load reads env vars, then applies an optional YAML overlay pointed at by
// CONFIG_FILE. YAML values win only where the env left the default.
func Load() (*Config, error) {
	cfg := &Config{
		LogMode:         envutil.Str("LOG_MODE", "development"),
		HTTPPort:        envutil.Str("HTTP_PORT", "8080"),
		CORSOrigins:     splitCSV(envutil.Str("CORS_ORIGINS", "http://localhost:3000,http://localhost:5174")),
		StorageBackend:  StorageBackend(strings.ToLower(envutil.Str("STORAGE_BACKEND", "local"))),
		StorageBasePath: envutil.Str("STORAGE_BASE_PATH", "questions"),
		BucketName:      envutil.Str("GCS_BUCKET_NAME", ""),

		Provider:         envutil.Str("AI_PROVIDER", "openai"),
		ModelFast:        envutil.Str("OPENAI_MODEL_FAST", "gpt-5-mini"),
		ModelBase:        envutil.Str("OPENAI_MODEL_BASE", "gpt-5.2"),
		ModelLongContext: envutil.Str("OPENAI_MODEL_LONG_CONTEXT", "gpt-5.2"),
		EmbedModel:       envutil.Str("OPENAI_EMBED_MODEL", "text-embedding-3-small"),

		NumSearchQueries:   envutil.Int("NUM_SEARCH_QUERIES", 3),
		QuestionVStorePath: envutil.Str("QUESTION_VSTORE_PATH", ""),
		ExampleCSVPath:     envutil.Str("EXAMPLE_CSV_PATH", ""),

		RunnerTimeout: envutil.Seconds("RUNNER_TIMEOUT_SECONDS", 10*time.Second),
		NodeBin:       envutil.Str("NODE_BIN", "node"),
		PythonBin:     envutil.Str("PYTHON_BIN", "python3"),
	}

	if file := strings.TrimSpace(os.Getenv("CONFIG_FILE")); file != "" {
		if err := cfg.applyFile(file); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	overlay := Config{}
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if overlay.StorageBasePath != "" {
		c.StorageBasePath = overlay.StorageBasePath
	}
	if overlay.StorageBackend != "" {
		c.StorageBackend = overlay.StorageBackend
	}
	if overlay.BucketName != "" {
		c.BucketName = overlay.BucketName
	}
	if overlay.ModelFast != "" {
		c.ModelFast = overlay.ModelFast
	}
	if overlay.ModelBase != "" {
		c.ModelBase = overlay.ModelBase
	}
	if overlay.ModelLongContext != "" {
		c.ModelLongContext = overlay.ModelLongContext
	}
	if overlay.EmbedModel != "" {
		c.EmbedModel = overlay.EmbedModel
	}
	if overlay.ExampleCSVPath != "" {
		c.ExampleCSVPath = overlay.ExampleCSVPath
	}
	if overlay.QuestionVStorePath != "" {
		c.QuestionVStorePath = overlay.QuestionVStorePath
	}
	if overlay.NumSearchQueries > 0 {
		c.NumSearchQueries = overlay.NumSearchQueries
	}
	if len(overlay.CORSOrigins) > 0 {
		c.CORSOrigins = overlay.CORSOrigins
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendLocal:
		if c.StorageBasePath == "" {
			return fmt.Errorf("STORAGE_BASE_PATH required for local storage backend")
		}
	case BackendCloud:
		if c.BucketName == "" {
			return fmt.Errorf("GCS_BUCKET_NAME required for cloud storage backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want local or cloud)", c.StorageBackend)
	}
	if c.RunnerTimeout < 5*time.Second {
		c.RunnerTimeout = 5 * time.Second
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
