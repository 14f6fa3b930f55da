// Package cluster implements the coordinator that drives the cluster
// protocol state machine: initial key generation, resharing-based
// reconfiguration, request gating and halting.
//
// All durable state lives in the ledger; the coordinator is stateless
// between calls and safe to restart at any point. Concurrent coordinators
// serialize through the ledger's compare-and-swap writes and the attempt
// ledger, never through local locks.
package cluster
