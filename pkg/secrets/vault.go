package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"actionit/backend/pkg/cache"
	"actionit/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
	"golang.org/x/sync/singleflight"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// VaultConfig holds configuration for Vault client
type VaultConfig struct {
	Address     string
	Token       string
	Namespace   string
	Timeout     time.Duration
	MaxRetries  int
	Mount       string
	SecretsPath string
	Enabled     bool
	// CacheTTL is how long a read of SecretsPath is reused before Vault is
	// asked again, so rotated values are picked up within one TTL.
	CacheTTL time.Duration
}

// VaultConfigFromEnv reads VAULT_* variables. Vault stays disabled unless
// VAULT_ENABLED is set.
func VaultConfigFromEnv() VaultConfig {
	cfg := VaultConfig{
		Address:     os.Getenv("VAULT_ADDR"),
		Token:       os.Getenv("VAULT_TOKEN"),
		Namespace:   os.Getenv("VAULT_NAMESPACE"),
		Mount:       os.Getenv("VAULT_MOUNT"),
		SecretsPath: os.Getenv("VAULT_SECRETS_PATH"),
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		CacheTTL:    5 * time.Minute,
	}
	switch strings.ToLower(os.Getenv("VAULT_ENABLED")) {
	case "true", "1", "yes":
		cfg.Enabled = true
	}
	return cfg
}

// VaultManager serves secrets from one KV v2 path. The whole path is read at
// once and cached; keys absent from Vault fall back to the environment.
type VaultManager struct {
	client *vault.Client
	config VaultConfig
	log    *logger.Logger

	snapshot *cache.Cache[map[string]string]
	reads    singleflight.Group
}

func NewVaultManager(config VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if log == nil {
		log = logger.Discard()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}

	m := &VaultManager{log: log.WithComponent("secrets")}
	if !config.Enabled {
		m.config = config
		return m, nil
	}

	if config.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if config.Token == "" {
		return nil, ErrNoVaultToken
	}
	if config.Mount == "" {
		config.Mount = "secret"
	}
	if config.SecretsPath == "" {
		config.SecretsPath = "actionit"
	}
	m.config = config

	vc := vault.DefaultConfig()
	vc.Address = config.Address
	vc.Timeout = config.Timeout
	vc.MaxRetries = config.MaxRetries

	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}
	m.client = client
	m.snapshot = cache.New[map[string]string](cache.Options{DefaultExpiration: config.CacheTTL})

	return m, nil
}

// GetSecret returns key from Vault, or from the environment variable derived
// from it (db.password reads DB_PASSWORD).
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if m.client == nil {
		return fromEnvironment(key)
	}

	data, err := m.read(ctx)
	switch {
	case errors.Is(err, ErrSecretNotFound):
	case err != nil:
		return "", err
	default:
		if v, ok := data[key]; ok {
			return v, nil
		}
	}

	m.log.Debug("Secret not in Vault, trying environment", "key", key)
	return fromEnvironment(key)
}

func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		m.log.Debug("Secret unavailable, using default value", "key", key, "error", err.Error())
		return defaultValue
	}
	return value
}

// Invalidate drops the cached snapshot so the next lookup reads Vault
func (m *VaultManager) Invalidate() {
	if m.snapshot != nil {
		m.snapshot.Delete(m.config.SecretsPath)
	}
}

// Close releases the snapshot cache
func (m *VaultManager) Close() {
	if m.snapshot != nil {
		m.snapshot.Close()
	}
}

// read returns the string values stored at SecretsPath. Concurrent misses
// share one Vault request.
func (m *VaultManager) read(ctx context.Context) (map[string]string, error) {
	path := m.config.SecretsPath
	if data, ok := m.snapshot.Get(path); ok {
		return data, nil
	}

	v, err, _ := m.reads.Do(path, func() (any, error) {
		secret, err := m.client.KVv2(m.config.Mount).Get(ctx, path)
		if err != nil {
			if errors.Is(err, vault.ErrSecretNotFound) {
				return nil, ErrSecretNotFound
			}
			m.log.LogError(err, "Vault read failed", "mount", m.config.Mount, "path", path)
			return nil, fmt.Errorf("read %s/%s: %w", m.config.Mount, path, err)
		}
		if secret == nil || secret.Data == nil {
			return nil, ErrSecretNotFound
		}

		data := make(map[string]string, len(secret.Data))
		for k, raw := range secret.Data {
			if s, ok := raw.(string); ok {
				data[k] = s
			}
		}
		m.snapshot.Set(path, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

func fromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}
	return "", ErrSecretNotFound
}
