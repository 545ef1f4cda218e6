// Package secrets stores per-user broker API tokens in HashiCorp Vault.
// When Vault is disabled the store keeps tokens in memory only, which is
// enough for development and testing.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"trading-assistant/config"
)

// BrokerToken is the credential a session uses against the trading platform
type BrokerToken struct {
	Token  string `json:"token"`
	Broker string `json:"broker"`
}

// Store wraps the HashiCorp Vault client
type Store struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*BrokerToken // userID -> token cache
	cacheEnabled bool
}

// NewStore creates a new token store
func NewStore(cfg config.VaultConfig) (*Store, error) {
	if !cfg.Enabled {
		return &Store{
			config:       cfg,
			cache:        make(map[string]*BrokerToken),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Store{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*BrokerToken),
		cacheEnabled: true,
	}, nil
}

// StoreToken stores a broker token for a user
func (s *Store) StoreToken(ctx context.Context, userID string, token BrokerToken) error {
	if token.Token == "" {
		return fmt.Errorf("broker token must not be empty")
	}

	if !s.config.Enabled {
		// Store in local cache only (for development/testing)
		s.mu.Lock()
		s.cache[userID] = &token
		s.mu.Unlock()
		return nil
	}

	path := s.secretPath(userID)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"token":  token.Token,
			"broker": token.Broker,
		},
	}

	_, err := s.client.Logical().WriteWithContext(ctx, path, secretData)
	if err != nil {
		return fmt.Errorf("failed to store broker token in vault: %w", err)
	}

	// Update cache
	if s.cacheEnabled {
		s.mu.Lock()
		s.cache[userID] = &token
		s.mu.Unlock()
	}

	return nil
}

// GetToken retrieves the broker token for a user
func (s *Store) GetToken(ctx context.Context, userID string) (*BrokerToken, error) {
	// Check cache first
	if s.cacheEnabled {
		s.mu.RLock()
		if cached, ok := s.cache[userID]; ok {
			s.mu.RUnlock()
			return cached, nil
		}
		s.mu.RUnlock()
	}

	if !s.config.Enabled {
		return nil, fmt.Errorf("broker token not found and vault is disabled")
	}

	path := s.secretPath(userID)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read broker token from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("broker token not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	token := &BrokerToken{
		Token:  getString(data, "token"),
		Broker: getString(data, "broker"),
	}

	// Update cache
	if s.cacheEnabled {
		s.mu.Lock()
		s.cache[userID] = token
		s.mu.Unlock()
	}

	return token, nil
}

// DeleteToken removes a user's broker token
func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	// Remove from cache
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()

	if !s.config.Enabled {
		return nil
	}

	path := s.metadataPath(userID)

	_, err := s.client.Logical().DeleteWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to delete broker token from vault: %w", err)
	}

	return nil
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]*BrokerToken)
	s.mu.Unlock()
}

// SetCacheEnabled enables or disables caching
func (s *Store) SetCacheEnabled(enabled bool) {
	s.mu.Lock()
	s.cacheEnabled = enabled
	s.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (s *Store) IsEnabled() bool {
	return s.config.Enabled
}

// Health checks the Vault connection
func (s *Store) Health(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	health, err := s.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path for a user's token
func (s *Store) secretPath(userID string) string {
	return fmt.Sprintf("%s/data/%s/%s", s.config.MountPath, s.config.SecretPath, userID)
}

// metadataPath returns the KV v2 metadata path for a user's token
func (s *Store) metadataPath(userID string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", s.config.MountPath, s.config.SecretPath, userID)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
