// Package sharing provides the in-process share-resharing and threshold
// signing capability used by single-binary deployments and tests.
//
// LocalResharer deals each domain's ed25519 seed into Shamir shares across
// the participant set and reconstructs it on demand for signing, key
// derivation and resharing. The seed itself is never persisted; only the
// share distribution is. Production clusters replace this with the
// networked MPC runtime behind the same interfaces.
package sharing
