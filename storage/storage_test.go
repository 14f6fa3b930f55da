package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/mpc/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackendRoundTrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	blob := []byte("sealed share package")
	id := interfaces.ComputeID(blob)
	require.NoError(t, backend.Store(ctx, id, blob))

	fetched, err := backend.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, blob, fetched)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("other")))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFactorySchemes(t *testing.T) {
	factory := NewFactory(testLogger())

	backend, err := factory.BackendFor("file://" + t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	backend, err = factory.BackendFor("s3://exports-bucket/cluster-a?region=eu-west-1")
	require.NoError(t, err)
	assert.IsType(t, &S3Backend{}, backend)
	assert.Contains(t, backend.LocationURI(), "exports-bucket")

	backend, err = factory.BackendFor("vault://vault.internal:8200/secret/mpc-exports?insecure=true")
	require.NoError(t, err)
	assert.IsType(t, &VaultBackend{}, backend)

	_, err = factory.BackendFor("ftp://nope")
	assert.Error(t, err)

	_, err = factory.BackendFor("vault://vault.internal:8200/justmount")
	assert.Error(t, err, "Vault URIs need a mount and a data path")
}
