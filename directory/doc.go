// Package directory answers who is in the cluster. It derives participant
// membership and status from the authoritative ledger snapshot and owns the
// backup-service registration rules for migration.
package directory
