package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ContentID is a 32-byte SHA-256 hash uniquely identifying a stored blob.
type ContentID [32]byte

// ComputeID calculates the content ID for a blob.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// NewContentIDFromHex parses a hex-encoded content ID.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}
	var id ContentID
	copy(id[:], raw)
	return id, nil
}

// String returns the hex representation.
func (id ContentID) String() string { return hex.EncodeToString(id[:]) }

// Bytes returns the raw 32-byte hash.
func (id ContentID) Bytes() []byte { return id[:] }

// ErrContentNotFound is returned when a backend has no blob for an ID.
var ErrContentNotFound = errors.New("content not found")

// StorageBackend persists sealed export blobs for the backup-custody
// service, addressed by content hash.
type StorageBackend interface {
	// Store persists data under its content ID.
	Store(ctx context.Context, id ContentID, data []byte) error

	// Fetch retrieves a blob by ID, or ErrContentNotFound.
	Fetch(ctx context.Context, id ContentID) ([]byte, error)

	// LocationURI returns the backend's location URI for logging.
	LocationURI() string
}
