package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/shaiss/mpc/interfaces"
)

// VaultBackend stores sealed packages in a HashiCorp Vault KV v2 mount.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault storage backend. The token must have
// read/write capabilities on the data path.
func NewVaultBackend(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) secretPath(id interfaces.ContentID) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, id.String())
}

// Store writes the blob under its content ID in KV v2 format.
func (b *VaultBackend) Store(ctx context.Context, id interfaces.ContentID, data []byte) error {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"content": string(data),
		},
	}
	if _, err := b.client.Logical().WriteWithContext(ctx, b.secretPath(id), payload); err != nil {
		return fmt.Errorf("failed to write blob to Vault: %w", err)
	}
	b.log.Debug("stored sealed package", "path", b.secretPath(id), "size", len(data))
	return nil
}

// Fetch reads a blob by content ID.
func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data")
	}
	return []byte(content), nil
}

// LocationURI returns the backend's location URI.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}
