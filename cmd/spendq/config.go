// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	spendqconfig "github.com/teradata-labs/spendq/pkg/config"
	"github.com/teradata-labs/spendq/pkg/observability"
)

const (
	// ServiceName for keyring storage
	ServiceName = "spendq"

	// DefaultConfigFileName is the config file name without extension.
	DefaultConfigFileName = "spendq"
)

// Config is the merged configuration from file, environment and flags.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox" yaml:"sandbox"`
	Gate       GateConfig       `mapstructure:"gate" yaml:"gate"`
	Limits     LimitsConfig     `mapstructure:"limits" yaml:"limits"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
	SQL        SQLConfig        `mapstructure:"sql" yaml:"sql"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Schema     SchemaConfig     `mapstructure:"schema" yaml:"schema"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`

	// DataDir is not loaded from the config file.
	DataDir string `mapstructure:"-" yaml:"-"`
}

// DatabaseConfig points at the spend database.
type DatabaseConfig struct {
	URL             string `mapstructure:"url" yaml:"url"` // From CLI/env/keyring only
	MaxConns        int32  `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns" yaml:"min_conns"`
	ApplicationName string `mapstructure:"application_name" yaml:"application_name"`
}

// SandboxConfig holds per-transaction limits for model-written SQL.
type SandboxConfig struct {
	StatementTimeoutMs         int `mapstructure:"statement_timeout_ms" yaml:"statement_timeout_ms"`
	LockTimeoutMs              int `mapstructure:"lock_timeout_ms" yaml:"lock_timeout_ms"`
	IdleInTransactionTimeoutMs int `mapstructure:"idle_in_transaction_timeout_ms" yaml:"idle_in_transaction_timeout_ms"`
	// BreakerThreshold is the number of consecutive database failures that
	// open the circuit. Zero disables the breaker.
	BreakerThreshold int `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
}

// GateConfig holds the cost gate thresholds.
type GateConfig struct {
	MaxTotalCost             float64 `mapstructure:"max_total_cost" yaml:"max_total_cost"`
	MaxPlanRows              float64 `mapstructure:"max_plan_rows" yaml:"max_plan_rows"`
	RejectUnfilteredFactScan bool    `mapstructure:"reject_unfiltered_fact_scan" yaml:"reject_unfiltered_fact_scan"`
}

// LimitsConfig bounds result sizes.
type LimitsConfig struct {
	DefaultMaxRows int `mapstructure:"default_max_rows" yaml:"default_max_rows"`
	HardMaxRows    int `mapstructure:"hard_max_rows" yaml:"hard_max_rows"`
}

// TelemetryConfig controls span recording and persistence.
type TelemetryConfig struct {
	SQLRetention     string `mapstructure:"sql_retention" yaml:"sql_retention"`
	SQLTruncateChars int    `mapstructure:"sql_truncate_chars" yaml:"sql_truncate_chars"`
	QueueSize        int    `mapstructure:"queue_size" yaml:"queue_size"`
	// Tracing logs spans and metrics at debug level.
	Tracing bool `mapstructure:"tracing" yaml:"tracing"`
}

// SQLConfig is the validator policy. Empty table and fact settings come
// from the schema description.
type SQLConfig struct {
	AllowedTables       []string `mapstructure:"allowed_tables" yaml:"allowed_tables"`
	FactTable           string   `mapstructure:"fact_table" yaml:"fact_table"`
	FactDateColumn      string   `mapstructure:"fact_date_column" yaml:"fact_date_column"`
	RequirePublicSchema bool     `mapstructure:"require_public_schema" yaml:"require_public_schema"`
	DeniedFunctions     []string `mapstructure:"denied_functions" yaml:"denied_functions"`
}

// AgentConfig bounds the tool loop.
type AgentConfig struct {
	MaxIterations       int `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxRetries          int `mapstructure:"max_retries" yaml:"max_retries"`
	FallbackRecencyDays int `mapstructure:"fallback_recency_days" yaml:"fallback_recency_days"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider       string  `mapstructure:"provider" yaml:"provider"`
	Model          string  `mapstructure:"model" yaml:"model"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"` // From CLI/env/keyring only
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`

	BedrockRegion  string `mapstructure:"bedrock_region" yaml:"bedrock_region"`
	BedrockProfile string `mapstructure:"bedrock_profile" yaml:"bedrock_profile"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Retry     LLMRetryConfig  `mapstructure:"retry" yaml:"retry"`
}

// RateLimitConfig configures the shared model-call rate limiter.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstCapacity     int     `mapstructure:"burst_capacity" yaml:"burst_capacity"`
	TokensPerMinute   int64   `mapstructure:"tokens_per_minute" yaml:"tokens_per_minute"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// LLMRetryConfig configures backoff for failed model calls.
type LLMRetryConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier" yaml:"multiplier"`
}

// CheckpointConfig selects the conversation store.
type CheckpointConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key"` // From CLI/env/keyring only
}

// SchemaConfig selects the schema context source.
type SchemaConfig struct {
	// File is a YAML description; empty uses the built-in one.
	File string `mapstructure:"file" yaml:"file"`
	// Introspect reads column types from the database, keeping the file's
	// descriptions.
	Introspect bool `mapstructure:"introspect" yaml:"introspect"`
	// Watch reloads File when it changes while serving.
	Watch           bool   `mapstructure:"watch" yaml:"watch"`
	RefreshCron     string `mapstructure:"refresh_cron" yaml:"refresh_cron"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
}

// ServerConfig configures the HTTP endpoint.
type ServerConfig struct {
	Addr string           `mapstructure:"addr" yaml:"addr"`
	CORS CORSServerConfig `mapstructure:"cors" yaml:"cors"`
}

// CORSServerConfig configures CORS for the HTTP endpoint.
type CORSServerConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// LoadConfig loads configuration from file, environment and bound flags.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(spendqconfig.DataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/spendq/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	// SPENDQ_SANDBOX_STATEMENT_TIMEOUT_MS -> sandbox.statement_timeout_ms
	viper.SetEnvPrefix("SPENDQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.DataDir = spendqconfig.DataDir()

	// Non-fatal: keyring might not be available
	_ = loadSecretsFromKeyring(&config)

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.min_conns", 1)
	viper.SetDefault("database.application_name", "spendq")

	viper.SetDefault("sandbox.statement_timeout_ms", 15000)
	viper.SetDefault("sandbox.lock_timeout_ms", 2000)
	viper.SetDefault("sandbox.idle_in_transaction_timeout_ms", 10000)
	viper.SetDefault("sandbox.breaker_threshold", 5)

	viper.SetDefault("gate.max_total_cost", 5e6)
	viper.SetDefault("gate.max_plan_rows", 5e6)
	viper.SetDefault("gate.reject_unfiltered_fact_scan", true)

	viper.SetDefault("limits.default_max_rows", 200)
	viper.SetDefault("limits.hard_max_rows", 1000)

	viper.SetDefault("telemetry.sql_retention", string(observability.RetainTruncated))
	viper.SetDefault("telemetry.sql_truncate_chars", observability.DefaultSQLTruncateChars)
	viper.SetDefault("telemetry.queue_size", 1024)
	viper.SetDefault("telemetry.tracing", false)

	viper.SetDefault("sql.allowed_tables", []string{})
	viper.SetDefault("sql.fact_table", "")
	viper.SetDefault("sql.fact_date_column", "")
	viper.SetDefault("sql.require_public_schema", true)
	viper.SetDefault("sql.denied_functions", []string{})

	viper.SetDefault("agent.max_iterations", 5)
	viper.SetDefault("agent.max_retries", 2)
	viper.SetDefault("agent.fallback_recency_days", 365)

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.model", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.timeout_seconds", 120)
	viper.SetDefault("llm.bedrock_region", "us-west-2")
	viper.SetDefault("llm.bedrock_profile", "")
	viper.SetDefault("llm.rate_limit.enabled", true)
	viper.SetDefault("llm.rate_limit.requests_per_second", 2.0)
	viper.SetDefault("llm.rate_limit.burst_capacity", 5)
	viper.SetDefault("llm.rate_limit.tokens_per_minute", 80000)
	viper.SetDefault("llm.rate_limit.max_retries", 5)
	viper.SetDefault("llm.retry.enabled", true)
	viper.SetDefault("llm.retry.max_retries", 3)
	viper.SetDefault("llm.retry.initial_delay_ms", 100)
	viper.SetDefault("llm.retry.max_delay_ms", 5000)
	viper.SetDefault("llm.retry.multiplier", 2.0)

	viper.SetDefault("checkpoint.backend", "sqlite")
	viper.SetDefault("checkpoint.sqlite_path", spendqconfig.DataPath("spendq.db"))
	viper.SetDefault("checkpoint.encryption_key", "")

	viper.SetDefault("schema.file", "")
	viper.SetDefault("schema.introspect", false)
	viper.SetDefault("schema.watch", true)
	viper.SetDefault("schema.refresh_cron", "@every 15m")
	viper.SetDefault("schema.cache_ttl_seconds", 3600)

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.cors.enabled", false)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file", "")
}

// SecretMapping defines how to load a secret from keyring into the config.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool
}

// GetSecretMappings returns all secret mappings for the application.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "llm_api_key",
			Setter:     func(c *Config, val string) { c.LLM.APIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.APIKey != "" },
		},
		{
			KeyringKey: "database_url",
			Setter:     func(c *Config, val string) { c.Database.URL = val },
			IsSet:      func(c *Config) bool { return c.Database.URL != "" },
		},
		{
			KeyringKey: "checkpoint_encryption_key",
			Setter:     func(c *Config, val string) { c.Checkpoint.EncryptionKey = val },
			IsSet:      func(c *Config) bool { return c.Checkpoint.EncryptionKey != "" },
		},
	}
}

func loadSecretsFromKeyring(config *Config) error {
	for _, mapping := range GetSecretMappings() {
		if mapping.IsSet(config) {
			continue
		}
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
	}
	return nil
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// ListAvailableSecretKeys returns all known secret keys.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, mapping := range mappings {
		keys[i] = mapping.KeyringKey
	}
	return keys
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	if c.Limits.DefaultMaxRows < 1 {
		return fmt.Errorf("limits.default_max_rows must be at least 1, got %d", c.Limits.DefaultMaxRows)
	}
	if c.Limits.HardMaxRows < c.Limits.DefaultMaxRows {
		return fmt.Errorf("limits.hard_max_rows (%d) must be at least limits.default_max_rows (%d)",
			c.Limits.HardMaxRows, c.Limits.DefaultMaxRows)
	}
	if _, err := observability.ParseSQLRetention(c.Telemetry.SQLRetention); err != nil {
		return fmt.Errorf("telemetry.sql_retention: %w", err)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent.max_retries must not be negative, got %d", c.Agent.MaxRetries)
	}

	switch c.Checkpoint.Backend {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("checkpoint.backend postgres requires database.url")
		}
	case "sqlite":
		if c.Checkpoint.SQLitePath == "" {
			return fmt.Errorf("checkpoint.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported checkpoint backend: %s (must be memory, postgres or sqlite)", c.Checkpoint.Backend)
	}
	return nil
}

// ValidateLLM checks the settings needed to call a model.
func (c *Config) ValidateLLM() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%s API key is required (set SPENDQ_LLM_API_KEY, or save to keyring with 'spendq config set-key llm_api_key')", c.LLM.Provider)
		}
	case "bedrock":
		if c.LLM.BedrockRegion == "" {
			return fmt.Errorf("bedrock region is required (set llm.bedrock_region in config or SPENDQ_LLM_BEDROCK_REGION)")
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s (must be anthropic, bedrock or openai)", c.LLM.Provider)
	}
	return nil
}

// ValidateDatabase checks that a database is configured.
func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set SPENDQ_DATABASE_URL, or save to keyring with 'spendq config set-key database_url')")
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.LLM.APIKey = mask(out.LLM.APIKey)
	out.Database.URL = mask(out.Database.URL)
	out.Checkpoint.EncryptionKey = mask(out.Checkpoint.EncryptionKey)
	return out
}

// GenerateExampleConfig renders the defaults as a YAML config file.
func GenerateExampleConfig() (string, error) {
	setDefaults()
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return "", err
	}
	config.Checkpoint.SQLitePath = ""
	body, err := yaml.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	header := "# spendq configuration\n" +
		"# Secrets (llm.api_key, database.url, checkpoint.encryption_key) belong in the\n" +
		"# environment (SPENDQ_LLM_API_KEY, ...) or the keyring ('spendq config set-key').\n" +
		"# An empty checkpoint.sqlite_path means $SPENDQ_DATA_DIR/spendq.db.\n"
	return header + string(body), nil
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// isSecretKey reports whether key is a known keyring key.
func isSecretKey(key string) bool {
	for _, k := range ListAvailableSecretKeys() {
		if k == key {
			return true
		}
	}
	return false
}
