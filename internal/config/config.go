// Package config loads runtime settings for the command line tools from the
// environment. Command flags are registered with these values as defaults,
// so flags override the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Sternrassler/airtable-client/pkg/fetcher"
	"github.com/Sternrassler/airtable-client/pkg/logging"
	"github.com/Sternrassler/airtable-client/pkg/ratelimit"
	"github.com/Sternrassler/airtable-client/pkg/secret"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Environment variable names.
const (
	EnvAPIKey       = "AIRTABLE_API_KEY"
	EnvAPIKeySecret = "AIRTABLE_API_KEY_SECRET"
	EnvAWSRegion    = "AWS_REGION"
	EnvAppID        = "AIRTABLE_APP_ID"
	EnvTable        = "AIRTABLE_TABLE"
	EnvBaseURL      = "AIRTABLE_BASE_URL"
	EnvView         = "AIRTABLE_VIEW"
	EnvRedisURL     = "REDIS_URL"
	EnvLogLevel     = "LOG_LEVEL"
	EnvLogPretty    = "LOG_PRETTY"
	EnvMetricsAddr  = "METRICS_ADDR"
	EnvUserAgent    = "USER_AGENT"
)

var validate = validator.New()

// Config holds the settings shared by the commands.
type Config struct {
	// APIKey is the personal access token. Either it or APIKeySecret is
	// required.
	APIKey string `validate:"required_without=APIKeySecret"`

	// APIKeySecret is an AWS Secrets Manager secret id holding the key.
	APIKeySecret string
	AWSRegion    string

	AppID   string `validate:"required"`
	Table   string `validate:"required"`
	BaseURL string `validate:"required,url"`
	View    string

	// RedisURL enables the shared rate limit tracker when set.
	RedisURL string `validate:"omitempty,url"`

	LogLevel    string `validate:"omitempty,oneof=debug info warn warning error disabled"`
	LogPretty   bool
	MetricsAddr string
	UserAgent   string `validate:"required"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		BaseURL:   fetcher.DefaultBaseURL,
		LogLevel:  string(logging.LevelInfo),
		UserAgent: "airtable-client/1.0",
	}
}

// FromEnv reads the configuration from the process environment.
func FromEnv() Config {
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the configuration through lookup.
func FromLookup(lookup func(string) (string, bool)) Config {
	cfg := DefaultConfig()
	get := func(key, defaultValue string) string {
		if value, ok := lookup(key); ok && value != "" {
			return value
		}
		return defaultValue
	}

	cfg.APIKey = get(EnvAPIKey, "")
	cfg.APIKeySecret = get(EnvAPIKeySecret, "")
	cfg.AWSRegion = get(EnvAWSRegion, "")
	cfg.AppID = get(EnvAppID, "")
	cfg.Table = get(EnvTable, "")
	cfg.BaseURL = get(EnvBaseURL, cfg.BaseURL)
	cfg.View = get(EnvView, "")
	cfg.RedisURL = get(EnvRedisURL, "")
	cfg.LogLevel = strings.ToLower(get(EnvLogLevel, cfg.LogLevel))
	cfg.MetricsAddr = get(EnvMetricsAddr, "")
	cfg.UserAgent = get(EnvUserAgent, cfg.UserAgent)

	if pretty, err := strconv.ParseBool(get(EnvLogPretty, "false")); err == nil {
		cfg.LogPretty = pretty
	}
	return cfg
}

// Validate checks required settings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	return cfg
}

// Fetcher returns the fetcher configuration for apiKey.
func (c Config) Fetcher(apiKey string) fetcher.Config {
	cfg := fetcher.DefaultConfig(c.AppID, c.Table, apiKey)
	cfg.BaseURL = c.BaseURL
	cfg.View = c.View
	return cfg
}

// KeyProvider returns the API key source: the literal key if set,
// otherwise a cached Secrets Manager lookup.
func (c Config) KeyProvider(ctx context.Context) (secret.Provider, error) {
	if c.APIKey != "" {
		return secret.Static(c.APIKey), nil
	}
	if c.APIKeySecret == "" {
		return nil, secret.ErrNoAPIKey
	}

	client, err := secret.NewSecretsManagerClient(ctx, c.AWSRegion)
	if err != nil {
		return nil, err
	}
	provider, err := secret.NewSecretsManagerProvider(secret.SecretsManagerParams{
		Client:   client,
		SecretID: c.APIKeySecret,
	})
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// Limiter returns the rate limit tracker: Redis-backed and scoped to the
// base when RedisURL is set, process-local otherwise. The returned close
// function releases the Redis connection.
func (c Config) Limiter(ctx context.Context, logger zerolog.Logger) (ratelimit.Limiter, func() error, error) {
	if c.RedisURL == "" {
		return ratelimit.NewMemoryTracker(logger), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info().Str("redis", opts.Addr).Msg("Sharing rate limit state through Redis")
	return ratelimit.NewTracker(client, c.AppID, logger), client.Close, nil
}
