// Package attempts implements the attempt ledger: collision-free,
// monotonic numbering of key-generation and resharing attempts per
// (epoch, key domain).
//
// Attempt numbering, not wall-clock coordination, is what resolves races
// between coordinators independently deciding to drive a key event. A
// reservation is an optimistic claim on the next unused attempt id:
// exactly one attempt per (epoch, domain) can ever complete, reserving an
// id the same coordinator already holds is a no-op, and an abandoned id
// stays burned so a half-executed attempt is never resumed.
//
// The pure reservation rules live in this package and are shared by every
// ledger implementation; the Ledger type layers coordinator-facing
// reserve-next/complete/abandon operations on top of a StateLedger.
package attempts
