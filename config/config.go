package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dictionary service.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Dictionary DictionaryConfig `mapstructure:"dictionary"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// DefaultTimeout bounds store calls when dictionary.store_timeout is unset.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	RequireAuth bool   `mapstructure:"require_auth"`
}

// Validate rejects auth without a signing secret.
func (s ServerConfig) Validate() error {
	if s.RequireAuth && strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required when server.require_auth is set")
	}
	return nil
}

// LLMConfig describes the chat-completions endpoint used for extraction.
type LLMConfig struct {
	Type        string        `mapstructure:"type"` // openai or any OpenAI-compatible endpoint
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset LLM values.
func (c LLMConfig) Normalize() LLMConfig {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.Type == "" {
		c.Type = "openai"
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Validate checks the LLM configuration.
func (c LLMConfig) Validate() error {
	if c.Type != "openai" {
		return fmt.Errorf("llm.type %q not supported", c.Type)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	return nil
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// Lock backends.
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// DictionaryConfig tunes dictionary rebuilds.
type DictionaryConfig struct {
	Workers            int           `mapstructure:"workers"`
	ReferenceBatchSize int           `mapstructure:"reference_batch_size"`
	LockBackend        string        `mapstructure:"lock_backend"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	ExtractTimeout     time.Duration `mapstructure:"extract_timeout"`
	StoreTimeout       time.Duration `mapstructure:"store_timeout"`
	KeyMode            string        `mapstructure:"key_mode"` // transliterate or ascii
}

// Normalize applies defaults for unset dictionary values.
func (c DictionaryConfig) Normalize() DictionaryConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ReferenceBatchSize <= 0 || c.ReferenceBatchSize > 100 {
		c.ReferenceBatchSize = 100
	}
	c.LockBackend = strings.ToLower(strings.TrimSpace(c.LockBackend))
	if c.LockBackend == "" {
		c.LockBackend = LockBackendLocal
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 2 * time.Minute
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 30 * time.Second
	}
	c.KeyMode = strings.ToLower(strings.TrimSpace(c.KeyMode))
	if c.KeyMode == "" {
		c.KeyMode = "transliterate"
	}
	return c
}

// Validate checks the dictionary configuration.
func (c DictionaryConfig) Validate() error {
	switch c.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("dictionary.lock_backend must be %q or %q", LockBackendLocal, LockBackendRedis)
	}
	switch c.KeyMode {
	case "transliterate", "ascii":
	default:
		return fmt.Errorf("dictionary.key_mode must be transliterate or ascii")
	}
	if c.Workers > 64 {
		return fmt.Errorf("dictionary.workers must be <= 64")
	}
	return nil
}

// Load reads configuration from path, or searches ./config and the working
// directory for config.{json,yaml} when path is empty. A missing file is not
// an error when no path was given; environment variables (DICTIONARY_*) and
// defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("general.default_timeout", "30s")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.require_auth", false)
	v.SetDefault("llm.type", "openai")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "dictionary")
	v.SetDefault("dictionary.workers", 4)
	v.SetDefault("dictionary.reference_batch_size", 100)
	v.SetDefault("dictionary.lock_backend", LockBackendLocal)
	v.SetDefault("dictionary.key_mode", "transliterate")

	v.SetEnvPrefix("DICTIONARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults must be bound for Unmarshal to see their env values.
	for _, key := range []string{
		"server.jwt_secret", "llm.api_key", "llm.base_url", "llm.model", "llm.max_tokens", "llm.timeout",
		"storage.postgres.url", "storage.postgres.host", "storage.postgres.user", "storage.postgres.password",
		"storage.postgres.dbname", "storage.postgres.timeout", "storage.redis.host", "storage.redis.password",
		"storage.redis.db", "storage.redis.timeout", "telemetry.otlp_endpoint", "dictionary.lock_ttl", "dictionary.extract_timeout",
		"dictionary.store_timeout",
	} {
		_ = v.BindEnv(key)
	}

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.General.DefaultTimeout <= 0 {
		cfg.General.DefaultTimeout = 30 * time.Second
	}
	cfg.LLM = cfg.LLM.Normalize()
	// Unset per-call bounds inherit the general and model timeouts.
	if cfg.Dictionary.StoreTimeout <= 0 {
		cfg.Dictionary.StoreTimeout = cfg.General.DefaultTimeout
	}
	if cfg.Dictionary.ExtractTimeout <= 0 {
		cfg.Dictionary.ExtractTimeout = cfg.LLM.Timeout
	}
	cfg.Dictionary = cfg.Dictionary.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section needed to run the service.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Dictionary.Validate(); err != nil {
		return err
	}
	if c.Dictionary.LockBackend == LockBackendRedis {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}
