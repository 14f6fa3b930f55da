// Package interfaces defines the core types and component contracts of the
// MPC cluster coordination service. It provides the contract between
// components without implementation details.
//
// The package holds:
//
//   - Identity and configuration types: AccountID, Epoch, DomainID,
//     AttemptID, Participant, ParticipantSet, Keyset.
//   - The cluster protocol state model: ProtocolState, ClusterState,
//     AttemptRecord, BackupServiceInfo, MigrationRecord.
//   - Collaborator interfaces: StateLedger (durable, linearizable cluster
//     state), ShareResharer (the opaque share-resharing capability),
//     ThresholdSigner (signature and confidential-key-derivation requests),
//     ShareVault (a node's view of its own share material) and
//     StorageBackend (custody blob persistence).
//   - The error taxonomy shared by every component.
//
// Components accept these interfaces and return concrete structs. All
// authoritative state lives behind the StateLedger; nothing in this module
// caches mutable cluster state across operations.
package interfaces
