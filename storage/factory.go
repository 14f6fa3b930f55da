package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/shaiss/mpc/interfaces"
)

// Factory creates storage backends from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a storage backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - file:///path - local filesystem
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=...&endpoint=... - S3
//   - vault://host:port/mount/path?token=... - HashiCorp Vault KV v2
func (f *Factory) BackendFor(locationURI string) (interfaces.StorageBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid location URI %q: %w", locationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "vault":
		return f.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("unsupported storage backend scheme: %s", u.Scheme)
	}
}

func (f *Factory) createFileBackend(u *url.URL) (interfaces.StorageBackend, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("empty path in file URI: %s", u.String())
	}
	return NewFileBackend(path, f.log)
}

func (f *Factory) createS3Backend(u *url.URL) (interfaces.StorageBackend, error) {
	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}
	return NewS3Backend(u.Host, strings.TrimPrefix(u.Path, "/"), region, query.Get("endpoint"), accessKey, secretKey, f.log)
}

func (f *Factory) createVaultBackend(u *url.URL) (interfaces.StorageBackend, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid Vault URI, expected vault://host:port/mount/path: %s", u.String())
	}
	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	return NewVaultBackend(scheme+"://"+u.Host, u.Query().Get("token"), parts[0], parts[1], f.log)
}
