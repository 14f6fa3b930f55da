package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/interfaces"
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

func TestPublishTransitionCAS(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	state, err := l.ClusterState(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateInitializing, state.State)
	assert.Equal(t, interfaces.Epoch(0), state.Epoch)

	next := interfaces.ClusterState{
		State:        interfaces.StateRunning,
		Epoch:        0,
		Participants: testSet(t, 2, "alice.near", "bob.near", "carol.near"),
	}
	require.NoError(t, l.PublishTransition(ctx, state.Ref(), next))

	// The old snapshot's reference is now stale.
	err = l.PublishTransition(ctx, state.Ref(), next)
	assert.ErrorIs(t, err, interfaces.ErrStaleWrite, "A second writer with the old reference must lose")

	got, err := l.ClusterState(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateRunning, got.State)
	assert.Len(t, got.Participants.Members, 3)
}

func TestParticipantSetAtHistory(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	_, err := l.ParticipantSetAt(ctx, 0)
	assert.ErrorIs(t, err, interfaces.ErrInvalidEpoch, "Unknown epochs must be rejected")

	epoch0 := testSet(t, 2, "alice.near", "bob.near", "carol.near")
	require.NoError(t, l.PublishTransition(ctx,
		interfaces.StateRef{Epoch: 0, State: interfaces.StateInitializing},
		interfaces.ClusterState{State: interfaces.StateRunning, Epoch: 0, Participants: epoch0}))

	epoch1 := testSet(t, 2, "alice.near", "bob.near", "dave.near")
	require.NoError(t, l.PublishTransition(ctx,
		interfaces.StateRef{Epoch: 0, State: interfaces.StateRunning},
		interfaces.ClusterState{State: interfaces.StateRunning, Epoch: 1, Participants: epoch1}))

	old, err := l.ParticipantSetAt(ctx, 0)
	require.NoError(t, err)
	assert.True(t, old.Contains("carol.near"), "Epoch 0 parameters must stay queryable after a transition")

	cur, err := l.ParticipantSetAt(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cur.Contains("dave.near"))
	assert.False(t, cur.Contains("carol.near"))
}

func TestRegisterBackupInfoRules(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	keyA, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	keyB, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	infoA := interfaces.BackupServiceInfo{PublicKey: interfaces.BackupPubkey(keyA)}
	infoB := interfaces.BackupServiceInfo{PublicKey: interfaces.BackupPubkey(keyB)}

	_, err = l.BackupInfo(ctx, "alice.near")
	assert.ErrorIs(t, err, interfaces.ErrBackupInfoNotRegistered)

	require.NoError(t, l.RegisterBackupInfo(ctx, "alice.near", infoA, false))
	assert.NoError(t, l.RegisterBackupInfo(ctx, "alice.near", infoA, false), "Re-registering the same key should be a no-op")

	err = l.RegisterBackupInfo(ctx, "alice.near", infoB, false)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyRegistered, "A differing key must not overwrite without supersede")

	require.NoError(t, l.RegisterBackupInfo(ctx, "alice.near", infoB, true))
	got, err := l.BackupInfo(ctx, "alice.near")
	require.NoError(t, err)
	assert.True(t, got.PublicKey.Equal(infoB.PublicKey))
}

func TestRegisterBackupInfoLockedAfterExport(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	keyA, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)
	keyB, _, err := cryptoutils.GenerateSigningKeypair()
	require.NoError(t, err)

	require.NoError(t, l.RegisterBackupInfo(ctx, "alice.near", interfaces.BackupServiceInfo{PublicKey: interfaces.BackupPubkey(keyA)}, false))
	require.NoError(t, l.RecordMigration(ctx, interfaces.MigrationRecord{Account: "alice.near", Epoch: 3}))

	err = l.RegisterBackupInfo(ctx, "alice.near", interfaces.BackupServiceInfo{PublicKey: interfaces.BackupPubkey(keyB)}, true)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyRegistered, "A key that signed an export must not be superseded")
}

func TestRecordMigrationExactlyOnce(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	rec, err := l.Migration(ctx, "alice.near", 2)
	require.NoError(t, err)
	assert.Nil(t, rec, "Absent migration records should read as nil without error")

	require.NoError(t, l.RecordMigration(ctx, interfaces.MigrationRecord{Account: "alice.near", Epoch: 2}))
	err = l.RecordMigration(ctx, interfaces.MigrationRecord{Account: "alice.near", Epoch: 2})
	assert.ErrorIs(t, err, interfaces.ErrAlreadyExported, "One export record per account per epoch")

	// A later epoch is a fresh export slot.
	assert.NoError(t, l.RecordMigration(ctx, interfaces.MigrationRecord{Account: "alice.near", Epoch: 3}))

	rec, err = l.Migration(ctx, "alice.near", 2)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, interfaces.Epoch(2), rec.Epoch)
}
