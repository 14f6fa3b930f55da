// Package cryptoutils provides the cryptographic primitives shared across the
// MPC coordination service: typed public key wrappers with their wire formats,
// sealed-box encryption of exported key-share material, and signing helpers
// for authenticated API requests.
//
// Key material handled here is always public or sealed. Secret key shares are
// owned by the sharing package and only pass through this package in sealed
// form.
//
// # Key Formats
//
// Signing and peer-to-peer keys are Ed25519 and render in the ledger's
// human-readable format: "ed25519:" followed by the base58 encoding of the
// 32-byte public key. Sealing keys are Curve25519 keys for NaCl box
// encryption and render as plain hex, matching the backup service CLI flags.
//
// # Share Sealing
//
// Key-share exports are encrypted with anonymous NaCl sealed boxes: a fresh
// ephemeral key per export, no sender authentication (the export itself is
// authorized by an Ed25519 signature over the request). Only the holder of
// the sealing private key can open the blob.
package cryptoutils
