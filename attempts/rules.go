package attempts

import (
	"fmt"

	"github.com/shaiss/mpc/interfaces"
)

// NextID returns the next unused attempt id for a record history. Records
// are expected in attempt-id order, as returned by StateLedger.Attempts.
func NextID(records []interfaces.AttemptRecord) interfaces.AttemptID {
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Attempt + 1
}

// Completed returns the completed attempt record, if any.
func Completed(records []interfaces.AttemptRecord) (interfaces.AttemptRecord, bool) {
	for _, rec := range records {
		if rec.Status == interfaces.AttemptCompleted {
			return rec, true
		}
	}
	return interfaces.AttemptRecord{}, false
}

func find(records []interfaces.AttemptRecord, attempt interfaces.AttemptID) (interfaces.AttemptRecord, bool) {
	for _, rec := range records {
		if rec.Attempt == attempt {
			return rec, true
		}
	}
	return interfaces.AttemptRecord{}, false
}

// CheckReserve validates a reservation against the record history. It
// allows exactly two cases: the id is the next unused one, or the same
// coordinator already holds it (idempotent re-reservation).
func CheckReserve(records []interfaces.AttemptRecord, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	if _, done := Completed(records); done {
		return interfaces.ErrAttemptCompleted
	}
	if existing, ok := find(records, attempt); ok {
		if existing.Coordinator == coordinator && existing.Status == interfaces.AttemptReserved {
			return nil
		}
		return fmt.Errorf("%w: attempt %d held by %s", interfaces.ErrAttemptConflict, attempt, existing.Coordinator)
	}
	if next := NextID(records); attempt != next {
		return fmt.Errorf("%w: attempt %d is not the next unused id %d", interfaces.ErrAttemptConflict, attempt, next)
	}
	return nil
}

// CheckComplete validates marking an attempt as the one that produced the
// domain's authoritative shares.
func CheckComplete(records []interfaces.AttemptRecord, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	if _, done := Completed(records); done {
		return interfaces.ErrAttemptCompleted
	}
	existing, ok := find(records, attempt)
	if !ok {
		return fmt.Errorf("%w: attempt %d was never reserved", interfaces.ErrAttemptConflict, attempt)
	}
	if existing.Coordinator != coordinator {
		return fmt.Errorf("%w: attempt %d held by %s", interfaces.ErrAttemptConflict, attempt, existing.Coordinator)
	}
	if existing.Status != interfaces.AttemptReserved {
		return fmt.Errorf("%w: attempt %d is %s", interfaces.ErrAttemptConflict, attempt, existing.Status)
	}
	return nil
}

// CheckAbandon validates burning a reserved attempt id.
func CheckAbandon(records []interfaces.AttemptRecord, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	existing, ok := find(records, attempt)
	if !ok {
		return fmt.Errorf("%w: attempt %d was never reserved", interfaces.ErrAttemptConflict, attempt)
	}
	if existing.Coordinator != coordinator {
		return fmt.Errorf("%w: attempt %d held by %s", interfaces.ErrAttemptConflict, attempt, existing.Coordinator)
	}
	if existing.Status != interfaces.AttemptReserved {
		return fmt.Errorf("%w: attempt %d is %s", interfaces.ErrAttemptConflict, attempt, existing.Status)
	}
	return nil
}
