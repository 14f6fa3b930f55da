package interfaces

import (
	"fmt"
	"regexp"

	"github.com/shaiss/mpc/cryptoutils"
)

type SigningPubkey = cryptoutils.SigningPubkey
type P2PPubkey = cryptoutils.P2PPubkey
type BackupPubkey = cryptoutils.BackupPubkey
type SealingPubkey = cryptoutils.SealingPubkey

// Epoch identifies one generation of the authoritative participant set and
// threshold. It advances by exactly one on every completed resharing.
type Epoch uint64

// DomainID identifies one logical signing/derivation key tracked by the
// cluster. Domains share the cluster epoch but have independent key-event
// and attempt histories.
type DomainID uint32

// AttemptID numbers one execution of a key-generation or resharing
// sub-protocol for a given epoch and domain.
type AttemptID uint64

// AccountID is the stable ledger identity of a node.
type AccountID string

var accountIDRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]{0,62}[a-z0-9])?$`)

// NewAccountID creates an account ID with validation.
func NewAccountID(s string) (AccountID, error) {
	id := AccountID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks the account ID format.
func (id AccountID) Validate() error {
	if !accountIDRegex.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidAccountID, string(id))
	}
	return nil
}

// String returns the account ID as a string.
func (id AccountID) String() string { return string(id) }

// ParticipantStatus is a participant's membership status in the directory.
type ParticipantStatus int

const (
	// ParticipantActive holds a share of the current epoch's keys.
	ParticipantActive ParticipantStatus = iota
	// ParticipantJoining is part of a prospective set but holds no share yet.
	ParticipantJoining
	// ParticipantLeaving is in the current set but excluded from a
	// prospective set.
	ParticipantLeaving
)

// String returns the status name.
func (s ParticipantStatus) String() string {
	switch s {
	case ParticipantActive:
		return "active"
	case ParticipantJoining:
		return "joining"
	case ParticipantLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// Participant is one node identity in a participant set.
type Participant struct {
	Account    AccountID     `json:"account_id"`
	SigningKey SigningPubkey `json:"sign_pk"`
	P2PKey     P2PPubkey     `json:"p2p_pk"`
}

// Validate checks the participant record.
func (p Participant) Validate() error {
	if err := p.Account.Validate(); err != nil {
		return err
	}
	if p.SigningKey == (SigningPubkey{}) {
		return fmt.Errorf("participant %s: missing signing key", p.Account)
	}
	if p.P2PKey == (P2PPubkey{}) {
		return fmt.Errorf("participant %s: missing p2p key", p.Account)
	}
	return nil
}

// ParticipantSet is a set of participants together with the signing
// threshold. Member order is irrelevant to semantics but kept stable for
// share indexing.
type ParticipantSet struct {
	Members   []Participant `json:"participants"`
	Threshold int           `json:"threshold"`
}

// Validate checks the set invariant: a valid threshold 1 <= t <= |set| and
// well-formed, distinct members.
func (s ParticipantSet) Validate() error {
	if len(s.Members) == 0 {
		return ErrEmptyParticipantSet
	}
	if s.Threshold < 1 || s.Threshold > len(s.Members) {
		return fmt.Errorf("%w: threshold %d for %d participants", ErrInvalidThreshold, s.Threshold, len(s.Members))
	}
	seen := make(map[AccountID]bool, len(s.Members))
	for _, p := range s.Members {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Account] {
			return fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.Account)
		}
		seen[p.Account] = true
	}
	return nil
}

// Contains reports whether the account is a member of the set.
func (s ParticipantSet) Contains(account AccountID) bool {
	for _, p := range s.Members {
		if p.Account == account {
			return true
		}
	}
	return false
}

// ByAccount returns the participant record for an account.
func (s ParticipantSet) ByAccount(account AccountID) (Participant, error) {
	for _, p := range s.Members {
		if p.Account == account {
			return p, nil
		}
	}
	return Participant{}, fmt.Errorf("%w: %s", ErrNodeNotFound, account)
}

// Accounts returns the member account IDs in set order.
func (s ParticipantSet) Accounts() []AccountID {
	out := make([]AccountID, len(s.Members))
	for i, p := range s.Members {
		out[i] = p.Account
	}
	return out
}

// MissingFrom returns the accounts present in this set but absent from
// other. A resharing that excludes a participant reports it here.
func (s ParticipantSet) MissingFrom(other ParticipantSet) []AccountID {
	var out []AccountID
	for _, p := range s.Members {
		if !other.Contains(p.Account) {
			out = append(out, p.Account)
		}
	}
	return out
}

// KeyInfo is the externally visible state of one domain's key: the public
// key and the attempt that produced the current share distribution.
type KeyInfo struct {
	Domain    DomainID      `json:"domain_id"`
	PublicKey SigningPubkey `json:"public_key"`
	AttemptID AttemptID     `json:"attempt_id"`
}

// Keyset is the per-domain key state at one epoch, ordered by domain.
type Keyset []KeyInfo

// ForDomain returns the key info for a domain.
func (ks Keyset) ForDomain(domain DomainID) (KeyInfo, error) {
	for _, k := range ks {
		if k.Domain == domain {
			return k, nil
		}
	}
	return KeyInfo{}, fmt.Errorf("%w: domain %d", ErrUnknownDomain, domain)
}

// Domains returns the domain IDs covered by the keyset, in keyset order.
func (ks Keyset) Domains() []DomainID {
	out := make([]DomainID, len(ks))
	for i, k := range ks {
		out[i] = k.Domain
	}
	return out
}
