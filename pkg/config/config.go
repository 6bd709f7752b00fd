package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the query engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (connection strings with credentials) must only come from environment
// variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// DefaultDialect is used when neither the caller nor the schema snapshot
	// declares one.
	DefaultDialect string `yaml:"default_dialect" env:"QE_DEFAULT_DIALECT" env-default:"sqlserver"`

	// SchemaSnapshotPath points at the JSON schema snapshot re-read per request.
	SchemaSnapshotPath string `yaml:"schema_snapshot_path" env:"QE_SCHEMA_SNAPSHOT" env-default:"schema.json"`

	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Answer   AnswerConfig   `yaml:"answer"`
}

// DatabaseConfig holds the per-driver connection settings. DSNs carry
// credentials, so they are environment-only.
type DatabaseConfig struct {
	SQLServerDSN string `yaml:"-" env:"QE_SQLSERVER_DSN"` // Secret - not in YAML
	PostgresDSN  string `yaml:"-" env:"QE_POSTGRES_DSN"`  // Secret - not in YAML
	SQLitePath   string `yaml:"sqlite_path" env:"QE_SQLITE_PATH" env-default:""`

	MaxOpenConns int `yaml:"max_open_conns" env:"QE_DB_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns int `yaml:"max_idle_conns" env:"QE_DB_MAX_IDLE_CONNS" env-default:"2"`
}

// PipelineConfig holds the deterministic pipeline tunables.
type PipelineConfig struct {
	// MinIntentConfidence is the floor under which classification falls back
	// to the default intent policy.
	MinIntentConfidence float64 `yaml:"min_intent_confidence" env:"QE_MIN_INTENT_CONFIDENCE" env-default:"0.6"`

	// MinTableScore is the acceptance threshold for the table selector.
	MinTableScore float64 `yaml:"min_table_score" env:"QE_MIN_TABLE_SCORE" env-default:"1.2"`

	// DefaultListLimit caps listings when the question carries no explicit limit.
	DefaultListLimit int `yaml:"default_list_limit" env:"QE_DEFAULT_LIST_LIMIT" env-default:"100"`

	// MaxSelectColumns caps the default projection width.
	MaxSelectColumns int `yaml:"max_select_columns" env:"QE_MAX_SELECT_COLUMNS" env-default:"12"`
}

// AnswerConfig holds the response shaping settings.
type AnswerConfig struct {
	IncludeTrace   bool `yaml:"include_trace" env:"QE_INCLUDE_TRACE" env-default:"true"`
	MaxPreviewRows int  `yaml:"max_preview_rows" env:"QE_MAX_PREVIEW_ROWS" env-default:"100"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. A missing config.yaml is not an error; the environment and
// defaults cover everything. The version parameter is injected at build time
// and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	err := cleanenv.ReadConfig("config.yaml", cfg)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.DefaultListLimit <= 0 {
		return fmt.Errorf("default_list_limit must be positive, got %d", c.Pipeline.DefaultListLimit)
	}
	if c.Pipeline.MaxSelectColumns <= 0 {
		return fmt.Errorf("max_select_columns must be positive, got %d", c.Pipeline.MaxSelectColumns)
	}
	if c.Answer.MaxPreviewRows <= 0 {
		return fmt.Errorf("max_preview_rows must be positive, got %d", c.Answer.MaxPreviewRows)
	}
	return nil
}
