package migration

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/ledger"
	"github.com/shaiss/mpc/sharing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSet(t *testing.T, threshold int, accounts ...string) interfaces.ParticipantSet {
	t.Helper()
	set := interfaces.ParticipantSet{Threshold: threshold}
	for _, account := range accounts {
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
	return set
}

type exportFixture struct {
	store      *ledger.MemoryLedger
	local      *sharing.LocalResharer
	exporter   *Exporter
	backupPriv ed25519.PrivateKey
	sealPub    interfaces.SealingPubkey
	sealPriv   cryptoutils.SealingPrivkey
	pubkeys    map[interfaces.DomainID]interfaces.SigningPubkey
}

// newExportFixture stands up a running two-domain cluster at epoch 0 with
// a backup service registered for alice.
func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	local := sharing.NewLocalResharer()
	set := testSet(t, 2, "alice.near", "bob.near", "carol.near")

	sigShares, err := local.GenerateDomain(ctx, 0, set)
	require.NoError(t, err)
	ckdShares, err := local.GenerateDomain(ctx, 1, set)
	require.NoError(t, err)
	local.CommitEpoch(0, set, []*interfaces.DomainShares{sigShares, ckdShares})

	require.NoError(t, store.PublishTransition(ctx,
		interfaces.StateRef{Epoch: 0, State: interfaces.StateInitializing},
		interfaces.ClusterState{
			State:        interfaces.StateRunning,
			Epoch:        0,
			Participants: set,
			Keyset: interfaces.Keyset{
				{Domain: 0, PublicKey: sigShares.PublicKey},
				{Domain: 1, PublicKey: ckdShares.PublicKey},
			},
		}))

	backupPub, backupPriv, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	require.NoError(t, store.RegisterBackupInfo(ctx, "alice.near",
		interfaces.BackupServiceInfo{PublicKey: interfaces.BackupPubkey(backupPub)}, false))

	sealPub, sealPriv, err := cryptoutils.GenerateSealingKeypair()
	require.NoError(t, err)

	return &exportFixture{
		store:      store,
		local:      local,
		exporter:   NewExporter(store, local, nil, testLogger()),
		backupPriv: backupPriv,
		sealPub:    sealPub,
		sealPriv:   sealPriv,
		pubkeys: map[interfaces.DomainID]interfaces.SigningPubkey{
			0: sigShares.PublicKey,
			1: ckdShares.PublicKey,
		},
	}
}

func (f *exportFixture) signedRequest(account interfaces.AccountID, epoch interfaces.Epoch) ExportRequest {
	req := ExportRequest{Account: account, Epoch: epoch, SealingKey: f.sealPub}
	req.Signature = ed25519.Sign(f.backupPriv, req.SigningPayload())
	return req
}

func TestExportSealsSharesToBackupKey(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	result, err := f.exporter.Export(ctx, f.signedRequest("alice.near", 0))
	require.NoError(t, err)
	require.NotEmpty(t, result.Sealed)

	plaintext, err := cryptoutils.OpenSealed(f.sealPub, f.sealPriv, result.Sealed)
	require.NoError(t, err)
	var pkg SharePackage
	require.NoError(t, json.Unmarshal(plaintext, &pkg))
	assert.Equal(t, interfaces.AccountID("alice.near"), pkg.Account)
	assert.Len(t, pkg.Shares, 2, "One share per domain")
	assert.Equal(t, f.pubkeys[0].String(), pkg.Keyset[0])

	rec, err := f.store.Migration(ctx, "alice.near", 0)
	require.NoError(t, err)
	require.NotNil(t, rec, "Export must be recorded on the ledger")
	assert.Equal(t, result.Record.ExportDigest, rec.ExportDigest)
}

func TestExportExactlyOncePerEpoch(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	_, err := f.exporter.Export(ctx, f.signedRequest("alice.near", 0))
	require.NoError(t, err)

	_, err = f.exporter.Export(ctx, f.signedRequest("alice.near", 0))
	assert.ErrorIs(t, err, interfaces.ErrAlreadyExported)
}

func TestExportRejections(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	_, err := f.exporter.Export(ctx, f.signedRequest("mallory.near", 0))
	assert.ErrorIs(t, err, interfaces.ErrNodeNotFound, "Non-participants cannot export")

	_, err = f.exporter.Export(ctx, f.signedRequest("alice.near", 7))
	assert.ErrorIs(t, err, interfaces.ErrEpochMismatch, "Only the current epoch is exportable")

	_, err = f.exporter.Export(ctx, f.signedRequest("bob.near", 0))
	assert.ErrorIs(t, err, interfaces.ErrBackupInfoNotRegistered, "Bob never registered a backup service")

	// Tampered signature.
	req := f.signedRequest("alice.near", 0)
	req.Signature[0] ^= 0xff
	_, err = f.exporter.Export(ctx, req)
	assert.ErrorIs(t, err, interfaces.ErrUnauthenticated)

	// A signature by the wrong key.
	_, otherPriv, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	req = ExportRequest{Account: "alice.near", Epoch: 0, SealingKey: f.sealPub}
	req.Signature = ed25519.Sign(otherPriv, req.SigningPayload())
	_, err = f.exporter.Export(ctx, req)
	assert.ErrorIs(t, err, interfaces.ErrUnauthenticated)

	rec, err := f.store.Migration(ctx, "alice.near", 0)
	require.NoError(t, err)
	assert.Nil(t, rec, "Rejected requests must not consume the export slot")
}
