package interfaces

import (
	"errors"
	"fmt"
)

// Validation errors. Detected before any durable mutation; fully
// recoverable by the caller after fixing the request.
var (
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrEmptyParticipantSet  = errors.New("participant set is empty")
	ErrInvalidThreshold     = errors.New("invalid threshold")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrUnknownDomain        = errors.New("unknown key domain")
	ErrInvalidEpoch         = errors.New("invalid prospective epoch")
)

// Conflict errors. The request raced with another coordinator or an
// in-flight reconfiguration; recoverable by retry with fresh parameters.
var (
	ErrConflictingReconfiguration = errors.New("conflicting reconfiguration already in flight")
	ErrAttemptConflict            = errors.New("attempt id already reserved by another coordinator")
	ErrAttemptCompleted           = errors.New("key event already completed for this epoch and domain")
	ErrStaleWrite                 = errors.New("stale write: ledger state changed")
	ErrAlreadyExported            = errors.New("key shares already exported for this epoch")
)

// ErrInsufficientOldParticipants means fewer than old-threshold members of
// the previous participant set were reachable; the cluster stays at the
// current epoch in the running state. Recoverable once participants come
// back.
var ErrInsufficientOldParticipants = errors.New("insufficient old participants reachable for resharing")

// Authentication errors. Not a safety breach; the caller presented wrong
// credentials.
var ErrUnauthenticated = errors.New("requester does not hold the registered backup service key")

// Precondition and lookup errors.
var (
	ErrNodeNotFound            = errors.New("node not found in participant set")
	ErrEpochMismatch           = errors.New("export requested against a stale epoch")
	ErrAlreadyRegistered       = errors.New("backup service info already registered")
	ErrBackupInfoNotRegistered = errors.New("no backup service info registered")
	ErrMigrationProofRequired  = errors.New("participant removal requires a completed key-share export")
)

// Cluster availability errors.
var (
	ErrClusterNotRunning = errors.New("cluster is not in the running state")
	ErrClusterHalted     = errors.New("cluster is halted and requires operator intervention")
	ErrPublicKeyChanged  = errors.New("resharing produced a different public key")
)

// LivenessError reports a failed post-transition liveness probe. The
// transition already committed, so this never rolls back the epoch; it is
// surfaced for operator alerting instead of halting the cluster.
type LivenessError struct {
	Domains []DomainID
	Err     error
}

// Error implements the error interface.
func (e *LivenessError) Error() string {
	return fmt.Sprintf("post-transition liveness probe failed for domains %v: %v", e.Domains, e.Err)
}

// Unwrap returns the underlying probe failure.
func (e *LivenessError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a pre-mutation validation
// failure the caller can fix and resubmit.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidAccountID, ErrEmptyParticipantSet, ErrInvalidThreshold,
		ErrDuplicateParticipant, ErrUnknownDomain, ErrInvalidEpoch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflictError reports whether err is a recoverable race with another
// writer.
func IsConflictError(err error) bool {
	for _, target := range []error{
		ErrConflictingReconfiguration, ErrAttemptConflict,
		ErrAttemptCompleted, ErrStaleWrite, ErrAlreadyExported,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
