// Package secret resolves the Airtable API key, either from a static value
// or from AWS Secrets Manager with an in-memory refreshing cache.
package secret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/airtable-client/pkg/logging"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/ellogroup/ello-golang-cache/cache"
	"github.com/ellogroup/ello-golang-cache/driver"
	"github.com/go-playground/validator/v10"
)

// DefaultRefreshInterval is how long a fetched key is served before it is
// re-read from Secrets Manager.
const DefaultRefreshInterval = 1 * time.Hour

var (
	// ErrNoAPIKey is returned when no key is configured or the secret is empty.
	ErrNoAPIKey = errors.New("no Airtable API key configured")

	// ErrInvalidSecret is returned when a secret value has no usable key.
	ErrInvalidSecret = errors.New("invalid secret value")
)

// Provider supplies the API key.
type Provider interface {
	APIKey(ctx context.Context) (string, error)
}

// Static is a fixed API key.
type Static string

// APIKey returns the key, or ErrNoAPIKey when it is empty.
func (s Static) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoAPIKey
	}
	return string(s), nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerParams configures a SecretsManagerProvider.
type SecretsManagerParams struct {
	Client          SecretsManagerAPI `validate:"required"`
	SecretID        string            `validate:"required"`
	RefreshInterval time.Duration     `validate:"gte=0"`
}

// SecretsManagerProvider reads the key from AWS Secrets Manager and caches
// it, refreshing in the background once the interval has passed.
type SecretsManagerProvider struct {
	c *cache.KeylessRecordCache[string]
}

// NewSecretsManagerProvider creates a caching provider.
func NewSecretsManagerProvider(p SecretsManagerParams) (*SecretsManagerProvider, error) {
	if err := validator.New().Struct(p); err != nil {
		return nil, fmt.Errorf("invalid secrets manager params: %w", err)
	}

	interval := p.RefreshInterval
	if interval == 0 {
		interval = DefaultRefreshInterval
	}

	fetcher := secretFetcher{client: p.Client, secretID: p.SecretID}
	return &SecretsManagerProvider{
		c: cache.NewKeylessRecordCacheAsync[string](
			driver.NewMemoryCache[int, cache.RecordCacheItem[string]](),
			fetcher,
			interval,
		),
	}, nil
}

// APIKey returns the cached key, fetching it on first use.
func (p *SecretsManagerProvider) APIKey(ctx context.Context) (string, error) {
	return p.c.Get(ctx)
}

// NewSecretsManagerClient builds a client from the default AWS credential
// chain. An empty region uses the chain's region.
func NewSecretsManagerClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

type secretFetcher struct {
	client   SecretsManagerAPI
	secretID string
}

func (f secretFetcher) Fetch(ctx context.Context) (string, error) {
	out, err := f.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(f.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("unable to fetch api key from secrets manager: %w", err)
	}

	key, err := ParseSecretString(aws.ToString(out.SecretString))
	if err != nil {
		return "", err
	}

	logger := logging.NewLogger(logging.ComponentSecret)
	logger.Debug().
		Str("secret_id", f.secretID).
		Msg("Fetched API key from secrets manager")
	return key, nil
}

// secretDocument is the JSON form of a stored secret.
type secretDocument struct {
	APIKey string `json:"apiKey"`
}

// ParseSecretString accepts either the bare key or a JSON object with an
// "apiKey" member.
func ParseSecretString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrNoAPIKey
	}
	if !strings.HasPrefix(s, "{") {
		return s, nil
	}

	var doc secretDocument
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if strings.TrimSpace(doc.APIKey) == "" {
		return "", fmt.Errorf("%w: missing apiKey", ErrInvalidSecret)
	}
	return doc.APIKey, nil
}
