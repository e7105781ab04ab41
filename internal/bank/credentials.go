package bank

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// CredentialProvider supplies the bearer token for bank requests.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	// Refresh obtains a new token after the bank rejected the current one.
	Refresh(ctx context.Context) error
}

// EnvCredentials reads the token from an environment variable. The variable
// is read again on every Refresh, so a rotated secret is picked up without a
// restart.
type EnvCredentials struct {
	name   string
	lookup func(string) (string, bool)

	mu    sync.RWMutex
	token string
}

// NewEnvCredentials creates a provider reading the variable name.
func NewEnvCredentials(name string) *EnvCredentials {
	return &EnvCredentials{name: name, lookup: os.LookupEnv}
}

// Token returns the cached token, reading the variable on first use.
func (e *EnvCredentials) Token(ctx context.Context) (string, error) {
	e.mu.RLock()
	token := e.token
	e.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	if err := e.Refresh(ctx); err != nil {
		return "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token, nil
}

// Refresh re-reads the variable.
func (e *EnvCredentials) Refresh(_ context.Context) error {
	v, ok := e.lookup(e.name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return fmt.Errorf("Refresh: environment variable %s is not set", e.name)
	}
	e.mu.Lock()
	e.token = v
	e.mu.Unlock()
	return nil
}

// StaticCredentials is a fixed token, used by tests and local runs.
type StaticCredentials string

func (s StaticCredentials) Token(context.Context) (string, error) { return string(s), nil }

func (s StaticCredentials) Refresh(context.Context) error { return nil }
