package interfaces

import "context"

// DomainShares is the result of one key-generation or resharing run for a
// single domain: the (unchanged) public key and one opaque share per member
// of the target participant set.
type DomainShares struct {
	Domain    DomainID
	PublicKey SigningPubkey
	Shares    map[AccountID][]byte
}

// ShareResharer is the opaque share-resharing capability. It computes or
// redistributes a domain secret across a participant set without ever
// exposing the secret to this module. Implementations may fail transiently;
// callers drive retries through the attempt ledger.
type ShareResharer interface {
	// GenerateDomain creates fresh key material for a domain, split across
	// the participant set at its threshold.
	GenerateDomain(ctx context.Context, domain DomainID, set ParticipantSet) (*DomainShares, error)

	// ReshareDomain redistributes an existing domain secret from the old
	// set/threshold to the new set/threshold. The returned public key must
	// equal the domain's previous public key; callers treat any change as a
	// defect.
	ReshareDomain(ctx context.Context, domain DomainID, old, new ParticipantSet) (*DomainShares, error)

	// AvailableOldParticipants reports how many members of the old set are
	// reachable and willing to supply resharing input.
	AvailableOldParticipants(ctx context.Context, old ParticipantSet) (int, error)
}

// ThresholdSigner serves signature and confidential-key-derivation requests
// against the distributed key material.
type ThresholdSigner interface {
	// Sign produces a signature over payload under the domain's key.
	Sign(ctx context.Context, domain DomainID, payload []byte) ([]byte, error)

	// DeriveKey produces a confidential derived key bound to payload under
	// the domain's key.
	DeriveKey(ctx context.Context, domain DomainID, payload []byte) ([]byte, error)
}

// ShareVault exposes a single node's own current-epoch share material for
// migration export. Shares leave the vault only to be sealed to a
// registered backup-custody key.
type ShareVault interface {
	// NodeShares returns the node's share per domain at the given epoch.
	// Fails with ErrEpochMismatch when the node holds no shares for that
	// epoch.
	NodeShares(ctx context.Context, account AccountID, epoch Epoch) (map[DomainID][]byte, error)
}
