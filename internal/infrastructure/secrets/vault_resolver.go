// Package secrets resolves credentials from HashiCorp Vault before the service connects to its stores.
package secrets

import (
	"context"
	"fmt"
	"path"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/pkg/logger"
)

// VaultResolver reads secrets from a KV v2 mount.
type VaultResolver struct {
	client *vault.Client
	config config.VaultConfig
	logger logger.Logger
}

// NewVaultResolver creates a Vault client from cfg.
func NewVaultResolver(cfg config.VaultConfig, log logger.Logger) (*VaultResolver, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return NewVaultResolverWithClient(cfg, client, log), nil
}

// NewVaultResolverWithClient uses an existing client.
func NewVaultResolverWithClient(cfg config.VaultConfig, client *vault.Client, log logger.Logger) *VaultResolver {
	return &VaultResolver{
		client: client,
		config: cfg,
		logger: log.WithComponent("VaultResolver"),
	}
}

// ReadField returns one string field of the configured secret.
func (r *VaultResolver) ReadField(ctx context.Context, field string) (string, error) {
	secretPath := path.Join(r.config.MountPath, "data", r.config.SecretPath)
	secret, err := r.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret %s not found", secretPath)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("secret %s is not a KV v2 secret", secretPath)
	}
	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("field %q missing in secret %s", field, secretPath)
	}
	return value, nil
}

// ApplyRedisPassword replaces cfg.Redis.Password with the value stored in Vault.
func (r *VaultResolver) ApplyRedisPassword(ctx context.Context, cfg *config.Config) error {
	password, err := r.ReadField(ctx, r.config.PasswordField)
	if err != nil {
		return err
	}
	cfg.Redis.Password = password
	r.logger.Info(ctx, "redis password resolved from vault", logger.String("path", r.config.SecretPath))
	return nil
}
