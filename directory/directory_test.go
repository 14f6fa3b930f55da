package directory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/ledger"
)

func testParticipant(t *testing.T, account string) interfaces.Participant {
	t.Helper()
	sign, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	p2p, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	return interfaces.Participant{
		Account:    interfaces.AccountID(account),
		SigningKey: sign,
		P2PKey:     interfaces.P2PPubkey(p2p),
	}
}

func testSet(t *testing.T, threshold int, accounts ...string) interfaces.ParticipantSet {
	t.Helper()
	set := interfaces.ParticipantSet{Threshold: threshold}
	for _, account := range accounts {
		set.Members = append(set.Members, testParticipant(t, account))
	}
	return set
}

func runningLedger(t *testing.T, set interfaces.ParticipantSet) *ledger.MemoryLedger {
	t.Helper()
	l := ledger.NewMemoryLedger()
	require.NoError(t, l.PublishTransition(context.Background(),
		interfaces.StateRef{Epoch: 0, State: interfaces.StateInitializing},
		interfaces.ClusterState{State: interfaces.StateRunning, Epoch: 0, Participants: set}))
	return l
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParticipantStatuses(t *testing.T) {
	current := testSet(t, 2, "alice.near", "bob.near", "carol.near")
	l := runningLedger(t, current)
	d := New(l, testLogger())
	ctx := context.Background()

	_, st, err := d.Participant(ctx, "alice.near")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ParticipantActive, st)

	_, _, err = d.Participant(ctx, "mallory.near")
	assert.ErrorIs(t, err, interfaces.ErrNodeNotFound)

	// Enter resharing: dave joins, carol leaves.
	prospective := testSet(t, 2, "alice.near", "bob.near", "dave.near")
	require.NoError(t, l.PublishTransition(ctx,
		interfaces.StateRef{Epoch: 0, State: interfaces.StateRunning},
		interfaces.ClusterState{
			State:            interfaces.StateResharing,
			Epoch:            0,
			Participants:     current,
			ProspectiveEpoch: 1,
			Prospective:      &prospective,
		}))

	_, st, err = d.Participant(ctx, "carol.near")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ParticipantLeaving, st, "Excluded current members are leaving during resharing")

	_, st, err = d.Participant(ctx, "dave.near")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ParticipantJoining, st, "Prospective-only members are joining")

	entries, err := d.Participants(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "Listing covers current plus joining members")
}

func TestRegisterBackupInfoUnknownNode(t *testing.T) {
	l := runningLedger(t, testSet(t, 2, "alice.near", "bob.near"))
	d := New(l, testLogger())

	key, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	err = d.RegisterBackupInfo(context.Background(), "mallory.near",
		interfaces.BackupServiceInfo{PublicKey: interfaces.BackupPubkey(key)}, false)
	assert.ErrorIs(t, err, interfaces.ErrNodeNotFound)
}

func TestMigrationInfo(t *testing.T) {
	l := runningLedger(t, testSet(t, 2, "alice.near", "bob.near"))
	d := New(l, testLogger())
	ctx := context.Background()

	info, err := d.MigrationInfo(ctx, "alice.near")
	require.NoError(t, err)
	assert.Nil(t, info.BackupServiceInfo, "No registration yet")
	assert.False(t, info.ActiveMigration)

	key, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	require.NoError(t, d.RegisterBackupInfo(ctx, "alice.near",
		interfaces.BackupServiceInfo{PublicKey: interfaces.BackupPubkey(key)}, false))
	require.NoError(t, l.RecordMigration(ctx, interfaces.MigrationRecord{Account: "alice.near", Epoch: 0}))

	info, err = d.MigrationInfo(ctx, "alice.near")
	require.NoError(t, err)
	require.NotNil(t, info.BackupServiceInfo)
	assert.True(t, info.ActiveMigration, "Export at the current epoch marks the migration active")
}
