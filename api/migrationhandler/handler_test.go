package migrationhandler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/directory"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/ledger"
	"github.com/shaiss/mpc/migration"
	"github.com/shaiss/mpc/sharing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	router     *chi.Mux
	store      *ledger.MemoryLedger
	backupPub  interfaces.BackupPubkey
	backupPriv ed25519.PrivateKey
	sealPub    interfaces.SealingPubkey
	sealPriv   cryptoutils.SealingPrivkey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	local := sharing.NewLocalResharer()

	set := interfaces.ParticipantSet{Threshold: 2}
	for _, account := range []string{"alice.near", "bob.near", "carol.near"} {
		sign, _, err := cryptoutils.GenerateSigningKeypair()
		require.NoError(t, err)
		p2p, _, err := cryptoutils.GenerateSigningKeypair()
		require.NoError(t, err)
		set.Members = append(set.Members, interfaces.Participant{
			Account:    interfaces.AccountID(account),
			SigningKey: sign,
			P2PKey:     interfaces.P2PPubkey(p2p),
		})
	}

	shares, err := local.GenerateDomain(ctx, 0, set)
	require.NoError(t, err)
	local.CommitEpoch(0, set, []*interfaces.DomainShares{shares})
	require.NoError(t, store.PublishTransition(ctx,
		interfaces.StateRef{Epoch: 0, State: interfaces.StateInitializing},
		interfaces.ClusterState{
			State:        interfaces.StateRunning,
			Epoch:        0,
			Participants: set,
			Keyset:       interfaces.Keyset{{Domain: 0, PublicKey: shares.PublicKey}},
		}))

	backupPub, backupPriv, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	sealPub, sealPriv, err := cryptoutils.GenerateSealingKeypair()
	require.NoError(t, err)

	dir := directory.New(store, testLogger())
	handler := NewHandler(dir, migration.NewExporter(store, local, nil, testLogger()), testLogger())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return &fixture{
		router:     router,
		store:      store,
		backupPub:  interfaces.BackupPubkey(backupPub),
		backupPriv: backupPriv,
		sealPub:    sealPub,
		sealPriv:   sealPriv,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/migration/backup-info", RegisterRequest{
		Account:   "alice.near",
		PublicKey: f.backupPub.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterBackupInfo(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	rec := f.do(t, http.MethodGet, "/api/v1/migration/info/alice.near", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info interfaces.MigrationInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotNil(t, info.BackupServiceInfo)
	assert.Equal(t, f.backupPub.String(), info.BackupServiceInfo.PublicKey.String())
	assert.False(t, info.ActiveMigration)

	// A differing re-registration without supersede is a conflict.
	otherPub, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/v1/migration/backup-info", RegisterRequest{
		Account:   "alice.near",
		PublicKey: interfaces.BackupPubkey(otherPub).String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/migration/backup-info", RegisterRequest{
		Account:   "mallory.near",
		PublicKey: f.backupPub.String(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "Unknown nodes cannot register")

	rec = f.do(t, http.MethodPost, "/api/v1/migration/backup-info", RegisterRequest{
		Account:   "alice.near",
		PublicKey: "not-a-key",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	req := migration.ExportRequest{Account: "alice.near", Epoch: 0, SealingKey: f.sealPub}
	req.Signature = ed25519.Sign(f.backupPriv, req.SigningPayload())

	rec := f.do(t, http.MethodPost, "/api/v1/migration/export-keyshares", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ExportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	plaintext, err := cryptoutils.OpenSealed(f.sealPub, f.sealPriv, resp.Sealed)
	require.NoError(t, err)
	var pkg migration.SharePackage
	require.NoError(t, json.Unmarshal(plaintext, &pkg))
	assert.Len(t, pkg.Shares, 1)

	// The export shows up in the migration state and the slot is consumed.
	infoRec := f.do(t, http.MethodGet, "/api/v1/migration/info/alice.near", nil)
	require.Equal(t, http.StatusOK, infoRec.Code)
	var info interfaces.MigrationInfo
	require.NoError(t, json.Unmarshal(infoRec.Body.Bytes(), &info))
	assert.True(t, info.ActiveMigration)

	rec = f.do(t, http.MethodPost, "/api/v1/migration/export-keyshares", req)
	assert.Equal(t, http.StatusConflict, rec.Code, "Second export at the same epoch must be rejected")
}

func TestExportAuthFailures(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	req := migration.ExportRequest{Account: "alice.near", Epoch: 0, SealingKey: f.sealPub}
	req.Signature = []byte("garbage")
	rec := f.do(t, http.MethodPost, "/api/v1/migration/export-keyshares", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = migration.ExportRequest{Account: "alice.near", Epoch: 3, SealingKey: f.sealPub}
	req.Signature = ed25519.Sign(f.backupPriv, req.SigningPayload())
	rec = f.do(t, http.MethodPost, "/api/v1/migration/export-keyshares", req)
	assert.Equal(t, http.StatusConflict, rec.Code, "Epoch mismatch maps to a conflict")

	req = migration.ExportRequest{Account: "bob.near", Epoch: 0, SealingKey: f.sealPub}
	req.Signature = ed25519.Sign(f.backupPriv, req.SigningPayload())
	rec = f.do(t, http.MethodPost, "/api/v1/migration/export-keyshares", req)
	assert.Equal(t, http.StatusNotFound, rec.Code, "Bob has no registered backup service")
}
