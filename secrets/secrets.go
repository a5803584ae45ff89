// Package secrets abstracts credential retrieval so browser providers
// never read API keys from the process environment directly in
// production. The env provider exists for local development and tests;
// deployments use the AWS Secrets Manager provider in secrets/awssm.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Provider fetches a named secret. Names are provider-specific: an
// environment variable for Env, a secret ARN for the Secrets Manager
// provider.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// JSONKey fetches a secret whose value is a JSON object and extracts a
// single key from it. Secrets Manager secrets are conventionally stored
// as {"KEY": "value"} objects.
func JSONKey(ctx context.Context, p Provider, name, key string) (string, error) {
	raw, err := p.Get(ctx, name)
	if err != nil {
		return "", err
	}

	var obj map[string]string
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	val, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("secret %s has no key %q", name, key)
	}
	return val, nil
}

// Env resolves secrets from environment variables.
type Env struct{}

// Get returns the value of the environment variable name, or an error
// if it is unset or empty.
func (Env) Get(_ context.Context, name string) (string, error) {
	val := os.Getenv(name)
	if val == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return val, nil
}

// Static resolves secrets from a fixed map. Intended for tests.
type Static map[string]string

// Get returns the mapped value for name.
func (s Static) Get(_ context.Context, name string) (string, error) {
	val, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return val, nil
}

// Cached wraps a Provider and memoizes successful lookups for the
// lifetime of the process. Secret rotation requires a restart.
type Cached struct {
	inner Provider

	mu     sync.Mutex
	values map[string]string
}

// NewCached wraps p with an in-memory cache.
func NewCached(p Provider) *Cached {
	return &Cached{inner: p, values: make(map[string]string)}
}

// Get returns the cached value for name, fetching it once on first use.
// Failed lookups are not cached.
func (c *Cached) Get(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if val, ok := c.values[name]; ok {
		c.mu.Unlock()
		return val, nil
	}
	c.mu.Unlock()

	val, err := c.inner.Get(ctx, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.values[name] = val
	c.mu.Unlock()
	return val, nil
}
