package sharing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/interfaces"
)

func testSet(t *testing.T, threshold int, accounts ...string) interfaces.ParticipantSet {
	t.Helper()
	set := interfaces.ParticipantSet{Threshold: threshold}
	for _, account := range accounts {
		sign, _, err := cryptoutils.GenerateSigningKeypair()
		require.NoError(t, err)
		p2p, _, err := cryptoutils.GenerateSigningKeypair()
		require.NoError(t, err)
		set.Members = append(set.Members, interfaces.Participant{
			Account:    interfaces.AccountID(account),
			SigningKey: sign,
			P2PKey:     interfaces.P2PPubkey(p2p),
		})
	}
	return set
}

func TestGenerateAndSign(t *testing.T) {
	r := NewLocalResharer()
	ctx := context.Background()
	set := testSet(t, 2, "alice.near", "bob.near", "carol.near")

	shares, err := r.GenerateDomain(ctx, 0, set)
	require.NoError(t, err)
	assert.Len(t, shares.Shares, 3, "Every member should receive a share")

	r.CommitEpoch(0, set, []*interfaces.DomainShares{shares})

	payload := []byte("probe payload")
	sig, err := r.Sign(ctx, 0, payload)
	require.NoError(t, err)
	assert.True(t, shares.PublicKey.Verify(payload, sig), "Signature must verify under the domain public key")

	_, err = r.Sign(ctx, 7, payload)
	assert.ErrorIs(t, err, interfaces.ErrUnknownDomain)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	r := NewLocalResharer()
	ctx := context.Background()
	set := testSet(t, 2, "alice.near", "bob.near", "carol.near")

	shares, err := r.GenerateDomain(ctx, 1, set)
	require.NoError(t, err)
	r.CommitEpoch(0, set, []*interfaces.DomainShares{shares})

	first, err := r.DeriveKey(ctx, 1, []byte("app-key"))
	require.NoError(t, err)
	second, err := r.DeriveKey(ctx, 1, []byte("app-key"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "Derivation must be deterministic for the same payload")

	other, err := r.DeriveKey(ctx, 1, []byte("other-app"))
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "Distinct payloads must yield distinct keys")
}

func TestReshareKeepsPublicKey(t *testing.T) {
	r := NewLocalResharer()
	ctx := context.Background()
	old := testSet(t, 2, "alice.near", "bob.near", "carol.near")

	generated, err := r.GenerateDomain(ctx, 0, old)
	require.NoError(t, err)
	r.CommitEpoch(0, old, []*interfaces.DomainShares{generated})

	next := testSet(t, 3, "alice.near", "bob.near", "dave.near", "erin.near")
	reshared, err := r.ReshareDomain(ctx, 0, old, next)
	require.NoError(t, err)
	assert.Equal(t, generated.PublicKey, reshared.PublicKey, "Resharing must not change the public key")
	assert.Len(t, reshared.Shares, 4)
	assert.NotContains(t, reshared.Shares, interfaces.AccountID("carol.near"), "Departed members receive no new share")

	r.CommitEpoch(1, next, []*interfaces.DomainShares{reshared})
	sig, err := r.Sign(ctx, 0, []byte("after reshare"))
	require.NoError(t, err)
	assert.True(t, generated.PublicKey.Verify([]byte("after reshare"), sig), "New distribution must still sign under the old key")
}

func TestReshareNeedsThresholdOfOldSet(t *testing.T) {
	r := NewLocalResharer()
	ctx := context.Background()
	old := testSet(t, 2, "alice.near", "bob.near", "carol.near")

	generated, err := r.GenerateDomain(ctx, 0, old)
	require.NoError(t, err)
	r.CommitEpoch(0, old, []*interfaces.DomainShares{generated})

	r.SetUnavailable("alice.near", "bob.near")
	available, err := r.AvailableOldParticipants(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, 1, available)

	_, err = r.ReshareDomain(ctx, 0, old, testSet(t, 2, "carol.near", "dave.near"))
	assert.ErrorIs(t, err, interfaces.ErrInsufficientOldParticipants)

	r.SetAvailable("alice.near")
	_, err = r.ReshareDomain(ctx, 0, old, testSet(t, 2, "carol.near", "dave.near"))
	assert.NoError(t, err, "Threshold-many reachable members should suffice")
}

func TestNodeSharesPerEpoch(t *testing.T) {
	r := NewLocalResharer()
	ctx := context.Background()
	set := testSet(t, 2, "alice.near", "bob.near", "carol.near")

	sigShares, err := r.GenerateDomain(ctx, 0, set)
	require.NoError(t, err)
	ckdShares, err := r.GenerateDomain(ctx, 1, set)
	require.NoError(t, err)
	r.CommitEpoch(0, set, []*interfaces.DomainShares{sigShares, ckdShares})

	shares, err := r.NodeShares(ctx, "bob.near", 0)
	require.NoError(t, err)
	assert.Len(t, shares, 2, "Export covers every domain the node holds")

	_, err = r.NodeShares(ctx, "bob.near", 5)
	assert.ErrorIs(t, err, interfaces.ErrEpochMismatch, "Uncommitted epochs must be rejected")

	_, err = r.NodeShares(ctx, "mallory.near", 0)
	assert.ErrorIs(t, err, interfaces.ErrEpochMismatch, "Non-members hold no shares")
}

func TestSingleNodeCluster(t *testing.T) {
	r := NewLocalResharer()
	ctx := context.Background()
	set := testSet(t, 1, "solo.near")

	shares, err := r.GenerateDomain(ctx, 0, set)
	require.NoError(t, err)
	r.CommitEpoch(0, set, []*interfaces.DomainShares{shares})

	sig, err := r.Sign(ctx, 0, []byte("solo"))
	require.NoError(t, err)
	assert.True(t, shares.PublicKey.Verify([]byte("solo"), sig))
}
