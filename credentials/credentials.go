// Package credentials resolves provider API keys for users.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store returns a provider API key for a user. Vault-style per-user key
// storage plugs in behind this interface.
type Store interface {
	APIKey(ctx context.Context, userID, provider string) (string, error)
}

// envVarsByProvider maps a provider name to the environment variables
// checked as a fallback, in order.
var envVarsByProvider = map[string][]string{
	"anthropic": {"ANTHROPIC_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// ConfigStore serves keys from static configuration with environment
// fallbacks. All users share the deployment's keys.
type ConfigStore struct {
	mu   sync.RWMutex
	keys map[string]string // provider -> key
}

// NewConfigStore creates a credential store from configured keys.
func NewConfigStore(keys map[string]string) *ConfigStore {
	normalized := make(map[string]string, len(keys))
	for provider, key := range keys {
		if key != "" {
			normalized[strings.ToLower(provider)] = key
		}
	}
	return &ConfigStore{keys: normalized}
}

// APIKey implements Store.
func (s *ConfigStore) APIKey(_ context.Context, _ string, provider string) (string, error) {
	provider = strings.ToLower(provider)

	s.mu.RLock()
	key, ok := s.keys[provider]
	s.mu.RUnlock()
	if ok {
		return key, nil
	}

	for _, envVar := range envVarsByProvider[provider] {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("no API key configured for provider %s", provider)
}

// SetKey sets or replaces the key for a provider.
func (s *ConfigStore) SetKey(provider, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[strings.ToLower(provider)] = key
}
