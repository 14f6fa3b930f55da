package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// GenerateSealingKeypair generates a fresh Curve25519 keypair for sealed-box
// encryption of exported key-share material.
func GenerateSealingKeypair() (SealingPubkey, SealingPrivkey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return SealingPubkey{}, SealingPrivkey{}, fmt.Errorf("failed to generate sealing key: %w", err)
	}
	return SealingPubkey(*pub), SealingPrivkey(*priv), nil
}

// SealToPubkey encrypts data so that only the holder of the matching sealing
// private key can read it. A fresh ephemeral sender key is used per call.
func SealToPubkey(recipient SealingPubkey, data []byte) ([]byte, error) {
	pub := [32]byte(recipient)
	sealed, err := box.SealAnonymous(nil, data, &pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to seal data: %w", err)
	}
	return sealed, nil
}

// OpenSealed decrypts a blob produced by SealToPubkey.
func OpenSealed(recipient SealingPubkey, priv SealingPrivkey, sealed []byte) ([]byte, error) {
	pub := [32]byte(recipient)
	key := [32]byte(priv)
	data, ok := box.OpenAnonymous(nil, sealed, &pub, &key)
	if !ok {
		return nil, errors.New("failed to open sealed data: wrong key or corrupted blob")
	}
	return data, nil
}

// PublicSealingKey derives the public key for a sealing private key.
func PublicSealingKey(priv SealingPrivkey) (SealingPubkey, error) {
	raw, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return SealingPubkey{}, fmt.Errorf("failed to derive sealing pubkey: %w", err)
	}
	var pub SealingPubkey
	copy(pub[:], raw)
	return pub, nil
}
