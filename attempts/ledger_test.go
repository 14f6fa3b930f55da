package attempts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/mpc/attempts"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/ledger"
)

func TestReserveNextMonotonic(t *testing.T) {
	store := ledger.NewMemoryLedger()
	alice := attempts.NewLedger(store, "alice.near")
	ctx := context.Background()

	id, err := alice.ReserveNext(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, interfaces.AttemptID(0), id, "First reservation should claim id 0")

	require.NoError(t, alice.Abandon(ctx, 0, 0, id))

	id, err = alice.ReserveNext(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, interfaces.AttemptID(1), id, "Abandoned id 0 must not be reissued")
}

func TestReserveNextRetriesOnCollision(t *testing.T) {
	store := ledger.NewMemoryLedger()
	alice := attempts.NewLedger(store, "alice.near")
	bob := attempts.NewLedger(store, "bob.near")
	ctx := context.Background()

	// Bob grabs id 0 while Alice is deciding; her reservation should land
	// on the fresh next id instead of failing outright.
	_, err := bob.ReserveNext(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, bob.Abandon(ctx, 0, 0, 0))

	id, err := alice.ReserveNext(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, interfaces.AttemptID(1), id)
}

func TestCompleteFreezesHistory(t *testing.T) {
	store := ledger.NewMemoryLedger()
	alice := attempts.NewLedger(store, "alice.near")
	bob := attempts.NewLedger(store, "bob.near")
	ctx := context.Background()

	id, err := alice.ReserveNext(ctx, 0, 3)
	require.NoError(t, err)
	require.NoError(t, alice.Complete(ctx, 0, 3, id))

	_, err = bob.ReserveNext(ctx, 0, 3)
	assert.ErrorIs(t, err, interfaces.ErrAttemptCompleted, "No reservations after a completed attempt")

	// A parallel domain in the same epoch is unaffected.
	_, err = bob.ReserveNext(ctx, 0, 4)
	assert.NoError(t, err, "Attempt histories are scoped per domain")
}

func TestReserveIdempotentForHolder(t *testing.T) {
	store := ledger.NewMemoryLedger()
	alice := attempts.NewLedger(store, "alice.near")
	ctx := context.Background()

	require.NoError(t, alice.Reserve(ctx, 2, 0, 0))
	assert.NoError(t, alice.Reserve(ctx, 2, 0, 0), "Re-reserving a held id should be a no-op")

	records, err := store.Attempts(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 1, "Idempotent re-reservation must not duplicate records")
	assert.Equal(t, interfaces.AccountID("alice.near"), records[0].Coordinator)
}
