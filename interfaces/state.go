package interfaces

import "fmt"

// ProtocolState is the cluster-wide protocol state. Exactly one value is
// authoritative at any time; transitions are the only mutator.
type ProtocolState int

const (
	// StateInitializing means no key material exists yet.
	StateInitializing ProtocolState = iota
	// StateRunning means keys are usable and signature/CKD requests are
	// accepted.
	StateRunning
	// StateResharing means a reconfiguration is in flight; requests for the
	// affected domains are rejected.
	StateResharing
	// StateHalted is terminal: an irrecoverable inconsistency was detected
	// and operator intervention is required.
	StateHalted
)

// String returns the state name.
func (s ProtocolState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateResharing:
		return "resharing"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name for JSON.
func (s ProtocolState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *ProtocolState) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocolState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseProtocolState parses a state name.
func ParseProtocolState(s string) (ProtocolState, error) {
	switch s {
	case "initializing":
		return StateInitializing, nil
	case "running":
		return StateRunning, nil
	case "resharing":
		return StateResharing, nil
	case "halted":
		return StateHalted, nil
	default:
		return 0, fmt.Errorf("unknown protocol state %q", s)
	}
}

// StateRef identifies one authoritative (epoch, state) pair. Ledger writes
// are compare-and-swap keyed by the writer's expected StateRef; a write
// against a stale ref fails with ErrStaleWrite.
type StateRef struct {
	Epoch Epoch         `json:"epoch"`
	State ProtocolState `json:"state"`
}

// ClusterState is one immutable snapshot of the authoritative cluster
// configuration. The protocol state and epoch are always published together;
// readers never observe one without the other.
type ClusterState struct {
	State ProtocolState `json:"protocol_state"`
	Epoch Epoch         `json:"epoch"`

	// Participants is the authoritative set for Epoch.
	Participants ParticipantSet `json:"parameters"`

	// ProspectiveEpoch and Prospective are set only while State is
	// StateResharing.
	ProspectiveEpoch Epoch           `json:"prospective_epoch,omitempty"`
	Prospective      *ParticipantSet `json:"prospective_parameters,omitempty"`

	// Keyset holds each domain's public key and the attempt that produced
	// its current shares.
	Keyset Keyset `json:"keyset"`

	// HaltReason is set only when State is StateHalted.
	HaltReason string `json:"halt_reason,omitempty"`
}

// Ref returns the snapshot's compare-and-swap reference.
func (cs ClusterState) Ref() StateRef {
	return StateRef{Epoch: cs.Epoch, State: cs.State}
}

// AttemptStatus is the lifecycle state of one attempt record.
type AttemptStatus int

const (
	// AttemptReserved means a coordinator claimed the attempt and may be
	// driving it.
	AttemptReserved AttemptStatus = iota
	// AttemptAbandoned means the coordinator gave up on the attempt; the id
	// stays burned and is never reused.
	AttemptAbandoned
	// AttemptCompleted means the attempt produced the domain's authoritative
	// shares. At most one attempt per (epoch, domain) ever completes.
	AttemptCompleted
)

// String returns the status name.
func (s AttemptStatus) String() string {
	switch s {
	case AttemptReserved:
		return "reserved"
	case AttemptAbandoned:
		return "abandoned"
	case AttemptCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// AttemptRecord marks a reservation or completion of a key-generation or
// resharing attempt for one (epoch, domain).
type AttemptRecord struct {
	Epoch       Epoch         `json:"epoch"`
	Domain      DomainID      `json:"domain_id"`
	Attempt     AttemptID     `json:"attempt_id"`
	Coordinator AccountID     `json:"coordinator"`
	Status      AttemptStatus `json:"status"`
}

// BackupServiceInfo is a participant's registered backup-custody service
// key. Registration is one-time; a differing re-registration is rejected
// unless it explicitly supersedes a prior unused record.
type BackupServiceInfo struct {
	PublicKey BackupPubkey `json:"public_key"`
}

// MigrationInfo is a node's migration state as served by its migration
// endpoint.
type MigrationInfo struct {
	BackupServiceInfo *BackupServiceInfo `json:"backup_service_info,omitempty"`
	ActiveMigration   bool               `json:"active_migration"`
}

// MigrationRecord proves a node's key-share export to its backup-custody
// service was durably acknowledged at an epoch. It gates the node's
// eligibility for exclusion from the next resharing's participant set.
type MigrationRecord struct {
	Account      AccountID `json:"node_id"`
	Epoch        Epoch     `json:"epoch"`
	ExportDigest [32]byte  `json:"export_proof"`
}
