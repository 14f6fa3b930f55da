package attempts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/mpc/interfaces"
)

func rec(attempt interfaces.AttemptID, coordinator interfaces.AccountID, status interfaces.AttemptStatus) interfaces.AttemptRecord {
	return interfaces.AttemptRecord{
		Epoch:       1,
		Domain:      0,
		Attempt:     attempt,
		Coordinator: coordinator,
		Status:      status,
	}
}

func TestNextID(t *testing.T) {
	assert.Equal(t, interfaces.AttemptID(0), NextID(nil), "Empty history should start at attempt 0")

	records := []interfaces.AttemptRecord{
		rec(0, "node-a", interfaces.AttemptAbandoned),
		rec(1, "node-b", interfaces.AttemptAbandoned),
	}
	assert.Equal(t, interfaces.AttemptID(2), NextID(records), "Abandoned ids must never be reused")
}

func TestCheckReserve(t *testing.T) {
	records := []interfaces.AttemptRecord{
		rec(0, "node-a", interfaces.AttemptAbandoned),
		rec(1, "node-a", interfaces.AttemptReserved),
	}

	assert.NoError(t, CheckReserve(records, 1, "node-a"), "Holder re-reserving its own id should be idempotent")
	assert.ErrorIs(t, CheckReserve(records, 1, "node-b"), interfaces.ErrAttemptConflict, "Another coordinator must not steal a held id")
	assert.ErrorIs(t, CheckReserve(records, 0, "node-a"), interfaces.ErrAttemptConflict, "Abandoned ids must not be re-reserved")
	assert.ErrorIs(t, CheckReserve(records, 5, "node-b"), interfaces.ErrAttemptConflict, "Reservation must target the next unused id")
	assert.NoError(t, CheckReserve(records, 2, "node-b"), "Next unused id should be reservable")
}

func TestCheckReserveAfterCompletion(t *testing.T) {
	records := []interfaces.AttemptRecord{
		rec(0, "node-a", interfaces.AttemptCompleted),
	}
	assert.ErrorIs(t, CheckReserve(records, 1, "node-b"), interfaces.ErrAttemptCompleted, "History must freeze once an attempt completed")
}

func TestCheckComplete(t *testing.T) {
	records := []interfaces.AttemptRecord{
		rec(0, "node-a", interfaces.AttemptAbandoned),
		rec(1, "node-a", interfaces.AttemptReserved),
	}

	assert.ErrorIs(t, CheckComplete(records, 2, "node-a"), interfaces.ErrAttemptConflict, "Completing an unreserved id must fail")
	assert.ErrorIs(t, CheckComplete(records, 1, "node-b"), interfaces.ErrAttemptConflict, "Only the holder may complete its attempt")
	assert.ErrorIs(t, CheckComplete(records, 0, "node-a"), interfaces.ErrAttemptConflict, "Abandoned attempts must not be completed")
	require.NoError(t, CheckComplete(records, 1, "node-a"))

	done := []interfaces.AttemptRecord{rec(0, "node-a", interfaces.AttemptCompleted)}
	assert.ErrorIs(t, CheckComplete(done, 0, "node-a"), interfaces.ErrAttemptCompleted, "A second completion must be rejected")
}

func TestCheckAbandon(t *testing.T) {
	records := []interfaces.AttemptRecord{
		rec(0, "node-a", interfaces.AttemptReserved),
	}

	assert.NoError(t, CheckAbandon(records, 0, "node-a"), "Holder should be able to abandon its reservation")
	assert.ErrorIs(t, CheckAbandon(records, 0, "node-b"), interfaces.ErrAttemptConflict, "Only the holder may abandon an attempt")
	assert.ErrorIs(t, CheckAbandon(records, 3, "node-a"), interfaces.ErrAttemptConflict, "Abandoning an unreserved id must fail")

	burned := []interfaces.AttemptRecord{rec(0, "node-a", interfaces.AttemptAbandoned)}
	assert.ErrorIs(t, CheckAbandon(burned, 0, "node-a"), interfaces.ErrAttemptConflict, "Abandon is not idempotent on already-burned ids")
}
