package cryptoutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// ed25519Prefix is the human-readable key prefix used on the ledger.
const ed25519Prefix = "ed25519:"

// SigningPubkey is the Ed25519 public key a participant signs cluster
// transactions and request payloads with.
type SigningPubkey [32]byte

// P2PPubkey is the Ed25519 public key a participant authenticates its
// node-to-node transport with.
type P2PPubkey [32]byte

// BackupPubkey is the Ed25519 public key a registered backup-custody service
// authenticates its export requests with.
type BackupPubkey [32]byte

// SealingPubkey is a Curve25519 public key that exported key-share material
// is sealed to.
type SealingPubkey [32]byte

// SealingPrivkey is the Curve25519 private key matching a SealingPubkey.
type SealingPrivkey [32]byte

func parseEd25519(s string) ([32]byte, error) {
	var key [32]byte
	if !strings.HasPrefix(s, ed25519Prefix) {
		return key, fmt.Errorf("invalid key %q: missing %q prefix", s, ed25519Prefix)
	}
	raw, err := base58.Decode(strings.TrimPrefix(s, ed25519Prefix))
	if err != nil {
		return key, fmt.Errorf("invalid base58 key data: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("invalid key length: %d bytes, want 32", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func formatEd25519(key [32]byte) string {
	return ed25519Prefix + base58.Encode(key[:])
}

// NewSigningPubkeyFromBytes creates a signing public key from raw bytes.
func NewSigningPubkeyFromBytes(raw []byte) (SigningPubkey, error) {
	if len(raw) != 32 {
		return SigningPubkey{}, errors.New("invalid signing pubkey length: must be 32 bytes")
	}
	var key SigningPubkey
	copy(key[:], raw)
	return key, nil
}

// NewSigningPubkeyFromString parses a key in "ed25519:<base58>" format.
func NewSigningPubkeyFromString(s string) (SigningPubkey, error) {
	key, err := parseEd25519(s)
	return SigningPubkey(key), err
}

// String returns the ledger representation of the key.
func (k SigningPubkey) String() string { return formatEd25519(k) }

// Bytes returns the raw 32-byte key.
func (k SigningPubkey) Bytes() []byte { return k[:] }

// Verify reports whether sig is a valid signature over msg under this key.
func (k SigningPubkey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k[:]), msg, sig)
}

// MarshalText renders the key in ledger format for JSON.
func (k SigningPubkey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a key in "ed25519:<base58>" format.
func (k *SigningPubkey) UnmarshalText(text []byte) error {
	parsed, err := NewSigningPubkeyFromString(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NewP2PPubkeyFromString parses a key in "ed25519:<base58>" format.
func NewP2PPubkeyFromString(s string) (P2PPubkey, error) {
	key, err := parseEd25519(s)
	return P2PPubkey(key), err
}

// String returns the ledger representation of the key.
func (k P2PPubkey) String() string { return formatEd25519(k) }

// Bytes returns the raw 32-byte key.
func (k P2PPubkey) Bytes() []byte { return k[:] }

// MarshalText renders the key in ledger format for JSON.
func (k P2PPubkey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a key in "ed25519:<base58>" format.
func (k *P2PPubkey) UnmarshalText(text []byte) error {
	parsed, err := NewP2PPubkeyFromString(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NewBackupPubkeyFromString parses a key in "ed25519:<base58>" format.
func NewBackupPubkeyFromString(s string) (BackupPubkey, error) {
	key, err := parseEd25519(s)
	return BackupPubkey(key), err
}

// NewBackupPubkeyFromBytes creates a backup service key from raw bytes.
func NewBackupPubkeyFromBytes(raw []byte) (BackupPubkey, error) {
	if len(raw) != 32 {
		return BackupPubkey{}, errors.New("invalid backup pubkey length: must be 32 bytes")
	}
	var key BackupPubkey
	copy(key[:], raw)
	return key, nil
}

// String returns the ledger representation of the key.
func (k BackupPubkey) String() string { return formatEd25519(k) }

// Bytes returns the raw 32-byte key.
func (k BackupPubkey) Bytes() []byte { return k[:] }

// Verify reports whether sig is a valid signature over msg under this key.
func (k BackupPubkey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k[:]), msg, sig)
}

// Equal compares two backup service keys.
func (k BackupPubkey) Equal(other BackupPubkey) bool { return k == other }

// MarshalText renders the key in ledger format for JSON.
func (k BackupPubkey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a key in "ed25519:<base58>" format.
func (k *BackupPubkey) UnmarshalText(text []byte) error {
	parsed, err := NewBackupPubkeyFromString(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NewSealingPubkeyFromHex parses a hex-encoded Curve25519 public key.
func NewSealingPubkeyFromHex(s string) (SealingPubkey, error) {
	clean := strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return SealingPubkey{}, fmt.Errorf("invalid hex format: %w", err)
	}
	if len(raw) != 32 {
		return SealingPubkey{}, errors.New("invalid sealing pubkey length: hex string must be 64 characters")
	}
	var key SealingPubkey
	copy(key[:], raw)
	return key, nil
}

// String returns the hex representation of the key.
func (k SealingPubkey) String() string { return hex.EncodeToString(k[:]) }

// Bytes returns the raw 32-byte key.
func (k SealingPubkey) Bytes() []byte { return k[:] }

// MarshalText renders the key as hex for JSON.
func (k SealingPubkey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a hex-encoded key.
func (k *SealingPubkey) UnmarshalText(text []byte) error {
	parsed, err := NewSealingPubkeyFromHex(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// GenerateSigningKeypair generates a fresh Ed25519 keypair.
func GenerateSigningKeypair() (SigningPubkey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningPubkey{}, nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	key, err := NewSigningPubkeyFromBytes(pub)
	return key, priv, err
}
