// Package ledger provides implementations of the durable state ledger the
// cluster coordinates through.
//
// MemoryLedger is a process-local, linearizable implementation used by
// tests and single-process development clusters. It enforces the same
// compare-and-swap and attempt-reservation semantics as the onchain
// contract, so coordinator logic exercised against it behaves identically
// in production.
//
// ContractLedger talks to the cluster-state contract over an Ethereum
// JSON-RPC endpoint using go-ethereum's abi/bind machinery. State
// transitions are contract transactions keyed by the writer's expected
// (epoch, state) pair; the contract reverts stale writes, which surfaces
// here as ErrStaleWrite.
package ledger
