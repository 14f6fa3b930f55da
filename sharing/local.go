package sharing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/vault/shamir"
	"golang.org/x/crypto/hkdf"

	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/interfaces"
)

// ckdInfo domain-separates confidential key derivation from signing.
const ckdInfo = "mpc-confidential-key-derivation-v1"

type domainState struct {
	pubkey    interfaces.SigningPubkey
	threshold int
	shares    map[interfaces.AccountID][]byte
}

// LocalResharer implements interfaces.ShareResharer, ThresholdSigner and
// ShareVault with in-process Shamir shares over per-domain ed25519 seeds.
type LocalResharer struct {
	mu sync.RWMutex

	domains map[interfaces.DomainID]*domainState
	// history holds each committed epoch's share distribution per account,
	// serving migration export.
	history map[interfaces.Epoch]map[interfaces.AccountID]map[interfaces.DomainID][]byte
	// unavailable marks old-set members that will not supply resharing
	// input, simulating offline nodes.
	unavailable map[interfaces.AccountID]bool
}

// NewLocalResharer creates an empty local share dealer.
func NewLocalResharer() *LocalResharer {
	return &LocalResharer{
		domains:     make(map[interfaces.DomainID]*domainState),
		history:     make(map[interfaces.Epoch]map[interfaces.AccountID]map[interfaces.DomainID][]byte),
		unavailable: make(map[interfaces.AccountID]bool),
	}
}

// SetUnavailable marks accounts as unreachable for resharing input.
func (r *LocalResharer) SetUnavailable(accounts ...interfaces.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range accounts {
		r.unavailable[account] = true
	}
}

// SetAvailable clears the unreachable mark from accounts.
func (r *LocalResharer) SetAvailable(accounts ...interfaces.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range accounts {
		delete(r.unavailable, account)
	}
}

// splitSeed deals a seed across the set. Shamir needs at least two parts
// and a threshold of two; smaller sets fall back to plain copies, which is
// equivalent for t=1.
func splitSeed(seed []byte, set interfaces.ParticipantSet) (map[interfaces.AccountID][]byte, error) {
	out := make(map[interfaces.AccountID][]byte, len(set.Members))
	if set.Threshold < 2 || len(set.Members) < 2 {
		for _, p := range set.Members {
			share := make([]byte, len(seed))
			copy(share, seed)
			out[p.Account] = share
		}
		return out, nil
	}
	parts, err := shamir.Split(seed, len(set.Members), set.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split domain seed: %w", err)
	}
	for i, p := range set.Members {
		out[p.Account] = parts[i]
	}
	return out, nil
}

// recoverSeed reconstructs a domain seed from the current distribution,
// using only shares of reachable accounts. Callers must hold the lock.
func (r *LocalResharer) recoverSeed(state *domainState) ([]byte, error) {
	var parts [][]byte
	for account, share := range state.shares {
		if r.unavailable[account] {
			continue
		}
		parts = append(parts, share)
		if len(parts) == state.threshold {
			break
		}
	}
	if len(parts) < state.threshold {
		return nil, fmt.Errorf("%w: %d of %d required shares reachable",
			interfaces.ErrInsufficientOldParticipants, len(parts), state.threshold)
	}
	if state.threshold < 2 {
		return parts[0], nil
	}
	seed, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to combine domain shares: %w", err)
	}
	return seed, nil
}

func pubkeyFromSeed(seed []byte) (interfaces.SigningPubkey, error) {
	priv := ed25519.NewKeyFromSeed(seed)
	return cryptoutils.NewSigningPubkeyFromBytes(priv.Public().(ed25519.PublicKey))
}

// GenerateDomain creates fresh key material for a domain and deals it
// across the set.
func (r *LocalResharer) GenerateDomain(ctx context.Context, domain interfaces.DomainID, set interfaces.ParticipantSet) (*interfaces.DomainShares, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to sample domain seed: %w", err)
	}
	pubkey, err := pubkeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	shares, err := splitSeed(seed, set)
	if err != nil {
		return nil, err
	}
	return &interfaces.DomainShares{Domain: domain, PublicKey: pubkey, Shares: shares}, nil
}

// ReshareDomain redistributes a domain's existing secret to a new set and
// threshold. The domain public key is unchanged.
func (r *LocalResharer) ReshareDomain(ctx context.Context, domain interfaces.DomainID, old, next interfaces.ParticipantSet) (*interfaces.DomainShares, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.domains[domain]
	if !ok {
		return nil, fmt.Errorf("%w: domain %d", interfaces.ErrUnknownDomain, domain)
	}
	seed, err := r.recoverSeed(state)
	if err != nil {
		return nil, err
	}
	pubkey, err := pubkeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	if pubkey != state.pubkey {
		return nil, fmt.Errorf("%w: domain %d reconstructed to a different key", interfaces.ErrPublicKeyChanged, domain)
	}
	shares, err := splitSeed(seed, next)
	if err != nil {
		return nil, err
	}
	return &interfaces.DomainShares{Domain: domain, PublicKey: pubkey, Shares: shares}, nil
}

// AvailableOldParticipants counts old-set members currently reachable for
// resharing input.
func (r *LocalResharer) AvailableOldParticipants(ctx context.Context, old interfaces.ParticipantSet) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	available := 0
	for _, p := range old.Members {
		if !r.unavailable[p.Account] {
			available++
		}
	}
	return available, nil
}

// CommitEpoch installs the share distributions produced for an epoch as
// the authoritative ones and records them for migration export. Called
// after the corresponding ledger transition is published.
func (r *LocalResharer) CommitEpoch(epoch interfaces.Epoch, set interfaces.ParticipantSet, results []*interfaces.DomainShares) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byAccount := make(map[interfaces.AccountID]map[interfaces.DomainID][]byte)
	for _, res := range results {
		r.domains[res.Domain] = &domainState{
			pubkey:    res.PublicKey,
			threshold: set.Threshold,
			shares:    res.Shares,
		}
		for account, share := range res.Shares {
			if byAccount[account] == nil {
				byAccount[account] = make(map[interfaces.DomainID][]byte)
			}
			byAccount[account][res.Domain] = share
		}
	}
	r.history[epoch] = byAccount
}

// NodeShares returns one account's share per domain at an epoch.
func (r *LocalResharer) NodeShares(ctx context.Context, account interfaces.AccountID, epoch interfaces.Epoch) (map[interfaces.DomainID][]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byAccount, ok := r.history[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: no shares committed for epoch %d", interfaces.ErrEpochMismatch, epoch)
	}
	shares, ok := byAccount[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s holds no shares at epoch %d", interfaces.ErrEpochMismatch, account, epoch)
	}
	out := make(map[interfaces.DomainID][]byte, len(shares))
	for domain, share := range shares {
		cp := make([]byte, len(share))
		copy(cp, share)
		out[domain] = cp
	}
	return out, nil
}

// Sign produces an ed25519 signature over payload under the domain's key.
func (r *LocalResharer) Sign(ctx context.Context, domain interfaces.DomainID, payload []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.domains[domain]
	if !ok {
		return nil, fmt.Errorf("%w: domain %d", interfaces.ErrUnknownDomain, domain)
	}
	seed, err := r.recoverSeed(state)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(ed25519.NewKeyFromSeed(seed), payload), nil
}

// DeriveKey produces a 32-byte confidential derived key bound to payload
// under the domain's key.
func (r *LocalResharer) DeriveKey(ctx context.Context, domain interfaces.DomainID, payload []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.domains[domain]
	if !ok {
		return nil, fmt.Errorf("%w: domain %d", interfaces.ErrUnknownDomain, domain)
	}
	seed, err := r.recoverSeed(state)
	if err != nil {
		return nil, err
	}
	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, payload, []byte(ckdInfo)), derived); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return derived, nil
}

var (
	_ interfaces.ShareResharer   = (*LocalResharer)(nil)
	_ interfaces.ThresholdSigner = (*LocalResharer)(nil)
	_ interfaces.ShareVault      = (*LocalResharer)(nil)
)
