// Package clients provides HTTP clients for the node API, used by the
// backup-custody service and the admin tooling.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiss/mpc/api/clusterhandler"
	"github.com/shaiss/mpc/api/migrationhandler"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/migration"
)

// NodeClient talks to one node's API.
type NodeClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewNodeClient creates a client for the node at baseURL.
func NewNodeClient(baseURL string) *NodeClient {
	return &NodeClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *NodeClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// State fetches the authoritative cluster snapshot.
func (c *NodeClient) State(ctx context.Context) (*interfaces.ClusterState, error) {
	var state interfaces.ClusterState
	if err := c.do(ctx, http.MethodGet, "/api/v1/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// MigrationInfo fetches a node's migration state.
func (c *NodeClient) MigrationInfo(ctx context.Context, account interfaces.AccountID) (*interfaces.MigrationInfo, error) {
	var info interfaces.MigrationInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/migration/info/"+account.String(), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RegisterBackupInfo registers a backup-custody service key for a node.
func (c *NodeClient) RegisterBackupInfo(ctx context.Context, account interfaces.AccountID, publicKey string, supersede bool) error {
	req := migrationhandler.RegisterRequest{
		Account:   account,
		PublicKey: publicKey,
		Supersede: supersede,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/migration/backup-info", req, nil)
}

// Export requests a sealed key-share export.
func (c *NodeClient) Export(ctx context.Context, req migration.ExportRequest) (*migrationhandler.ExportResponse, error) {
	var resp migrationhandler.ExportResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/migration/export-keyshares", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sign requests a signature under a domain's key.
func (c *NodeClient) Sign(ctx context.Context, domain interfaces.DomainID, payload []byte) (*clusterhandler.SignResponse, error) {
	var resp clusterhandler.SignResponse
	path := fmt.Sprintf("/api/v1/sign/%d", domain)
	if err := c.do(ctx, http.MethodPost, path, clusterhandler.SignRequest{Payload: payload}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeriveKey requests a confidential derived key under a domain's key.
func (c *NodeClient) DeriveKey(ctx context.Context, domain interfaces.DomainID, payload []byte) ([]byte, error) {
	var resp clusterhandler.DeriveResponse
	path := fmt.Sprintf("/api/v1/ckd/%d", domain)
	if err := c.do(ctx, http.MethodPost, path, clusterhandler.SignRequest{Payload: payload}, &resp); err != nil {
		return nil, err
	}
	return resp.DerivedKey, nil
}

// Reshare requests a reconfiguration.
func (c *NodeClient) Reshare(ctx context.Context, req clusterhandler.ReshareRequest) (*interfaces.ClusterState, error) {
	var state interfaces.ClusterState
	if err := c.do(ctx, http.MethodPost, "/api/v1/reshare", req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Halt requests the terminal halted state.
func (c *NodeClient) Halt(ctx context.Context, reason string) (*interfaces.ClusterState, error) {
	var state interfaces.ClusterState
	if err := c.do(ctx, http.MethodPost, "/api/v1/halt", clusterhandler.HaltRequest{Reason: reason}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// InitCluster requests initial key generation.
func (c *NodeClient) InitCluster(ctx context.Context, req clusterhandler.InitRequest) (*interfaces.ClusterState, error) {
	var state interfaces.ClusterState
	if err := c.do(ctx, http.MethodPost, "/api/v1/init", req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
