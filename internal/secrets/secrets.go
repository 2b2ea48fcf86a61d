// Package secrets reads deployment credentials from AWS Secrets Manager.
// The service keeps its Stripe keys there in production instead of in the
// process environment.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/felipepmaragno/llm-cost-audit/internal/httputil"
)

var ErrSecretNotFound = errors.New("secret not found")

// SecretStore reads named secrets.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretJSON(ctx context.Context, name string, v any) error
}

// StripeCredentials is the JSON document stored under SECRETS_NAME.
type StripeCredentials struct {
	SecretKey     string `json:"stripe_secret_key"`
	WebhookSecret string `json:"stripe_webhook_secret"`
	PriceID       string `json:"stripe_price_id,omitempty"`
}

// LoadStripe decodes the Stripe credentials document stored under name.
func LoadStripe(ctx context.Context, store SecretStore, name string) (StripeCredentials, error) {
	var creds StripeCredentials
	if err := store.GetSecretJSON(ctx, name, &creds); err != nil {
		return StripeCredentials{}, fmt.Errorf("load stripe credentials: %w", err)
	}
	return creds, nil
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// DefaultCacheTTL is how long a fetched secret is served before it is read
// again, which bounds how long a rotated Stripe key takes to be picked up.
const DefaultCacheTTL = 5 * time.Minute

// AWSSecretsManager reads secret strings and caches them for a TTL.
type AWSSecretsManager struct {
	client secretsManagerAPI
	retry  httputil.RetryConfig
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	values map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// NewAWSSecretsManager returns a cached Secrets Manager reader.
func NewAWSSecretsManager(cfg aws.Config) *AWSSecretsManager {
	return newAWSSecretsManager(secretsmanager.NewFromConfig(cfg))
}

func newAWSSecretsManager(client secretsManagerAPI) *AWSSecretsManager {
	return &AWSSecretsManager{
		client: client,
		retry:  httputil.DefaultRetryConfig(),
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		values: make(map[string]cachedSecret),
	}
}

func (s *AWSSecretsManager) cached(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.values[name]
	if !ok || s.now().Sub(c.fetchedAt) >= s.ttl {
		return "", false
	}
	return c.value, true
}

// GetSecret returns the secret string, fetching it when the cached copy is
// older than the TTL.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	if v, ok := s.cached(name); ok {
		return v, nil
	}

	out, err := httputil.Retry(ctx, s.retry, func() (*secretsmanager.GetSecretValueOutput, error) {
		out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		var rnf *smtypes.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return nil, httputil.Permanent(fmt.Errorf("%w: %s", ErrSecretNotFound, name))
		}
		return out, err
	})
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := aws.ToString(out.SecretString)
	s.mu.Lock()
	s.values[name] = cachedSecret{value: value, fetchedAt: s.now()}
	s.mu.Unlock()
	return value, nil
}

func (s *AWSSecretsManager) GetSecretJSON(ctx context.Context, name string, v any) error {
	secret, err := s.GetSecret(ctx, name)
	if err != nil {
		return err
	}
	return decodeSecret(name, secret, v)
}

func decodeSecret(name, secret string, v any) error {
	if err := json.Unmarshal([]byte(secret), v); err != nil {
		return fmt.Errorf("decode secret %s: %w", name, err)
	}
	return nil
}

// InMemorySecretStore is a SecretStore for tests.
type InMemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewInMemorySecretStore() *InMemorySecretStore {
	return &InMemorySecretStore{
		secrets: make(map[string]string),
	}
}

func (s *InMemorySecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

func (s *InMemorySecretStore) GetSecretJSON(ctx context.Context, name string, v any) error {
	secret, err := s.GetSecret(ctx, name)
	if err != nil {
		return err
	}
	return decodeSecret(name, secret, v)
}

func (s *InMemorySecretStore) SetSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

func (s *InMemorySecretStore) DeleteSecret(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
}
