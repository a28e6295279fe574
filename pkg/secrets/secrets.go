package secrets

import (
	"context"
	"errors"
	"sync"

	"actionit/backend/pkg/logger"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

var (
	defaultManager Manager
	managerMu      sync.RWMutex
)

// ErrManagerNotInitialized is returned before Init or SetManager ran
var ErrManagerNotInitialized = errors.New("secrets manager not initialized")

// Init initializes the default secrets manager from VAULT_* variables
func Init(log *logger.Logger) (Manager, error) {
	manager, err := NewVaultManager(VaultConfigFromEnv(), log)
	if err != nil {
		return nil, err
	}
	SetManager(manager)
	return manager, nil
}

// GetSecret retrieves a secret from the default manager
func GetSecret(ctx context.Context, key string) (string, error) {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()
	if m == nil {
		return "", ErrManagerNotInitialized
	}
	return m.GetSecret(ctx, key)
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()
	if m == nil {
		return defaultValue
	}
	return m.GetSecretWithDefault(ctx, key, defaultValue)
}

// SetManager replaces the default secrets manager
func SetManager(manager Manager) {
	managerMu.Lock()
	defer managerMu.Unlock()
	defaultManager = manager
}
