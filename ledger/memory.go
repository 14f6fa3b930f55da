package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiss/mpc/attempts"
	"github.com/shaiss/mpc/interfaces"
)

type attemptKey struct {
	epoch  interfaces.Epoch
	domain interfaces.DomainID
}

type migrationKey struct {
	account interfaces.AccountID
	epoch   interfaces.Epoch
}

// MemoryLedger implements interfaces.StateLedger in memory with
// linearizable semantics. Every operation holds the ledger lock for its
// full read-modify-write, matching the serializability the contract
// provides onchain.
type MemoryLedger struct {
	mu sync.Mutex

	state      interfaces.ClusterState
	parameters map[interfaces.Epoch]interfaces.ParticipantSet
	attempts   map[attemptKey][]interfaces.AttemptRecord
	backupInfo map[interfaces.AccountID]interfaces.BackupServiceInfo
	migrations map[migrationKey]interfaces.MigrationRecord
}

// NewMemoryLedger creates an empty ledger at epoch 0 in the initializing
// state.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		state: interfaces.ClusterState{
			State: interfaces.StateInitializing,
			Epoch: 0,
		},
		parameters: make(map[interfaces.Epoch]interfaces.ParticipantSet),
		attempts:   make(map[attemptKey][]interfaces.AttemptRecord),
		backupInfo: make(map[interfaces.AccountID]interfaces.BackupServiceInfo),
		migrations: make(map[migrationKey]interfaces.MigrationRecord),
	}
}

// ClusterState returns the current authoritative snapshot.
func (l *MemoryLedger) ClusterState(ctx context.Context) (*interfaces.ClusterState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := l.state
	return &snapshot, nil
}

// ParticipantSetAt returns the authoritative participant set for an epoch.
func (l *MemoryLedger) ParticipantSetAt(ctx context.Context, epoch interfaces.Epoch) (*interfaces.ParticipantSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.parameters[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: no participant set for epoch %d", interfaces.ErrInvalidEpoch, epoch)
	}
	return &set, nil
}

// PublishTransition atomically replaces the cluster state, rejecting
// writers whose expected (epoch, state) pair is stale.
func (l *MemoryLedger) PublishTransition(ctx context.Context, expect interfaces.StateRef, next interfaces.ClusterState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Ref() != expect {
		return fmt.Errorf("%w: expected (epoch %d, %s), have (epoch %d, %s)",
			interfaces.ErrStaleWrite, expect.Epoch, expect.State, l.state.Epoch, l.state.State)
	}
	l.state = next
	if len(next.Participants.Members) > 0 {
		l.parameters[next.Epoch] = next.Participants
	}
	return nil
}

// Attempts returns the attempt history for (epoch, domain) in id order.
func (l *MemoryLedger) Attempts(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID) ([]interfaces.AttemptRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	records := l.attempts[attemptKey{epoch, domain}]
	out := make([]interfaces.AttemptRecord, len(records))
	copy(out, records)
	return out, nil
}

// ReserveAttempt claims an attempt id under the package attempts rules.
func (l *MemoryLedger) ReserveAttempt(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := attemptKey{epoch, domain}
	records := l.attempts[key]
	if err := attempts.CheckReserve(records, attempt, coordinator); err != nil {
		return err
	}
	// Idempotent re-reservation leaves the record untouched.
	for _, rec := range records {
		if rec.Attempt == attempt {
			return nil
		}
	}
	l.attempts[key] = append(records, interfaces.AttemptRecord{
		Epoch:       epoch,
		Domain:      domain,
		Attempt:     attempt,
		Coordinator: coordinator,
		Status:      interfaces.AttemptReserved,
	})
	return nil
}

func (l *MemoryLedger) setAttemptStatus(epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID, status interfaces.AttemptStatus) {
	key := attemptKey{epoch, domain}
	for i, rec := range l.attempts[key] {
		if rec.Attempt == attempt {
			l.attempts[key][i].Status = status
			return
		}
	}
}

// CompleteAttempt marks the attempt that produced the authoritative shares.
func (l *MemoryLedger) CompleteAttempt(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := attempts.CheckComplete(l.attempts[attemptKey{epoch, domain}], attempt, coordinator); err != nil {
		return err
	}
	l.setAttemptStatus(epoch, domain, attempt, interfaces.AttemptCompleted)
	return nil
}

// AbandonAttempt burns a reserved attempt id.
func (l *MemoryLedger) AbandonAttempt(ctx context.Context, epoch interfaces.Epoch, domain interfaces.DomainID, attempt interfaces.AttemptID, coordinator interfaces.AccountID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := attempts.CheckAbandon(l.attempts[attemptKey{epoch, domain}], attempt, coordinator); err != nil {
		return err
	}
	l.setAttemptStatus(epoch, domain, attempt, interfaces.AttemptAbandoned)
	return nil
}

// RegisterBackupInfo records a backup-custody service key for an account.
func (l *MemoryLedger) RegisterBackupInfo(ctx context.Context, account interfaces.AccountID, info interfaces.BackupServiceInfo, supersede bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.backupInfo[account]
	if !ok {
		l.backupInfo[account] = info
		return nil
	}
	if existing.PublicKey.Equal(info.PublicKey) {
		return nil
	}
	if !supersede {
		return fmt.Errorf("%w: %s already has a backup service key", interfaces.ErrAlreadyRegistered, account)
	}
	if l.backupInfoUsed(account) {
		return fmt.Errorf("%w: %s's backup service key was already used for an export", interfaces.ErrAlreadyRegistered, account)
	}
	l.backupInfo[account] = info
	return nil
}

// backupInfoUsed reports whether any export was recorded for the account.
// Callers must hold the lock.
func (l *MemoryLedger) backupInfoUsed(account interfaces.AccountID) bool {
	for key := range l.migrations {
		if key.account == account {
			return true
		}
	}
	return false
}

// BackupInfo returns an account's registered backup service key.
func (l *MemoryLedger) BackupInfo(ctx context.Context, account interfaces.AccountID) (*interfaces.BackupServiceInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.backupInfo[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrBackupInfoNotRegistered, account)
	}
	return &info, nil
}

// RecordMigration durably acknowledges a key-share export, at most once
// per (account, epoch).
func (l *MemoryLedger) RecordMigration(ctx context.Context, rec interfaces.MigrationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := migrationKey{rec.Account, rec.Epoch}
	if _, ok := l.migrations[key]; ok {
		return fmt.Errorf("%w: %s at epoch %d", interfaces.ErrAlreadyExported, rec.Account, rec.Epoch)
	}
	l.migrations[key] = rec
	return nil
}

// Migration returns the export record for (account, epoch), or nil.
func (l *MemoryLedger) Migration(ctx context.Context, account interfaces.AccountID, epoch interfaces.Epoch) (*interfaces.MigrationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.migrations[migrationKey{account, epoch}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

var _ interfaces.StateLedger = (*MemoryLedger)(nil)
