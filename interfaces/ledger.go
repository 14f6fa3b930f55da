package interfaces

import "context"

// StateLedger is the durable ledger collaborator. It provides linearizable
// reads and compare-and-swap writes of the authoritative cluster state,
// attempt records, backup service registrations and migration records.
//
// Every mutation is a single atomic operation against the ledger; there are
// no client-side partial writes. Nodes re-derive all state from the ledger
// on startup and never trust locally cached state across a restart.
type StateLedger interface {
	// ClusterState returns the current authoritative snapshot.
	ClusterState(ctx context.Context) (*ClusterState, error)

	// ParticipantSetAt returns the authoritative participant set for a past
	// or current epoch.
	ParticipantSetAt(ctx context.Context, epoch Epoch) (*ParticipantSet, error)

	// PublishTransition atomically replaces the cluster state. The write is
	// keyed by the writer's expected (epoch, state) pair and fails with
	// ErrStaleWrite when the authoritative state moved on.
	PublishTransition(ctx context.Context, expect StateRef, next ClusterState) error

	// Attempts returns every attempt record for one (epoch, domain) in
	// attempt-id order.
	Attempts(ctx context.Context, epoch Epoch, domain DomainID) ([]AttemptRecord, error)

	// ReserveAttempt claims an attempt id for a coordinator. It succeeds
	// only for the next unused id of the (epoch, domain) pair, or as a
	// no-op when the same coordinator already holds the id. Any other
	// collision fails with ErrAttemptConflict; reservations after a
	// completed attempt fail with ErrAttemptCompleted.
	ReserveAttempt(ctx context.Context, epoch Epoch, domain DomainID, attempt AttemptID, coordinator AccountID) error

	// CompleteAttempt marks the reserved attempt as the one that produced
	// the domain's authoritative shares. Only the reserving coordinator may
	// complete it; all later attempt ids become invalid.
	CompleteAttempt(ctx context.Context, epoch Epoch, domain DomainID, attempt AttemptID, coordinator AccountID) error

	// AbandonAttempt burns a reserved attempt id after a timeout or
	// failure. The id stays unusable; retries reserve a fresh id.
	AbandonAttempt(ctx context.Context, epoch Epoch, domain DomainID, attempt AttemptID, coordinator AccountID) error

	// RegisterBackupInfo records a participant's backup-custody service
	// key. Identical re-registration is a no-op. A differing registration
	// fails with ErrAlreadyRegistered unless supersede is set and the prior
	// record was never used for an export.
	RegisterBackupInfo(ctx context.Context, account AccountID, info BackupServiceInfo, supersede bool) error

	// BackupInfo returns a participant's registered backup service key, or
	// ErrBackupInfoNotRegistered.
	BackupInfo(ctx context.Context, account AccountID) (*BackupServiceInfo, error)

	// RecordMigration durably acknowledges a key-share export. At most one
	// record per (account, epoch) is ever accepted; a second write fails
	// with ErrAlreadyExported.
	RecordMigration(ctx context.Context, rec MigrationRecord) error

	// Migration returns the export record for (account, epoch), or nil when
	// no export happened at that epoch.
	Migration(ctx context.Context, account AccountID, epoch Epoch) (*MigrationRecord, error)
}
