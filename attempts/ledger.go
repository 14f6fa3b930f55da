package attempts

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiss/mpc/interfaces"
)

// Ledger drives attempt reservations for one coordinator identity on top
// of the durable state ledger. Reservation is the sole mutual-exclusion
// mechanism between coordinators; there is no separate lock manager.
type Ledger struct {
	store       interfaces.StateLedger
	coordinator interfaces.AccountID
}

// NewLedger creates an attempt ledger acting as the given coordinator.
func NewLedger(store interfaces.StateLedger, coordinator interfaces.AccountID) *Ledger {
	return &Ledger{store: store, coordinator: coordinator}
}

// ReserveNext claims the next unused attempt id for (epoch, domain). On a
// collision with another coordinator it retries once against the fresh
// record history before giving up with ErrAttemptConflict.
func (l *Ledger) ReserveNext(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID) (interfaces.AttemptID, error) {
	for tries := 0; tries < 2; tries++ {
		records, err := l.store.Attempts(ctx, epoch, domain)
		if err != nil {
			return 0, fmt.Errorf("failed to read attempt records: %w", err)
		}
		next := NextID(records)
		err = l.store.ReserveAttempt(ctx, epoch, domain, next, l.coordinator)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, interfaces.ErrAttemptConflict) {
			return 0, err
		}
	}
	return 0, interfaces.ErrAttemptConflict
}

// Reserve claims a specific attempt id, idempotently for ids this
// coordinator already holds.
func (l *Ledger) Reserve(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID) error {
	return l.store.ReserveAttempt(ctx, epoch, domain, attempt, l.coordinator)
}

// Complete marks a held attempt as the authoritative one for its
// (epoch, domain).
func (l *Ledger) Complete(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID) error {
	return l.store.CompleteAttempt(ctx, epoch, domain, attempt, l.coordinator)
}

// Abandon burns a held attempt id after a failure or timeout.
func (l *Ledger) Abandon(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID) error {
	return l.store.AbandonAttempt(ctx, epoch, domain, attempt, l.coordinator)
}
