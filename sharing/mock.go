package sharing

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaiss/mpc/interfaces"
)

// MockResharer is a testify mock of the share-resharing and signing
// capability, for tests that need scripted failures.
type MockResharer struct {
	mock.Mock
}

func (m *MockResharer) GenerateDomain(ctx context.Context, domain interfaces.DomainID, set interfaces.ParticipantSet) (*interfaces.DomainShares, error) {
	args := m.Called(ctx, domain, set)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.DomainShares), args.Error(1)
}

func (m *MockResharer) ReshareDomain(ctx context.Context, domain interfaces.DomainID, old, next interfaces.ParticipantSet) (*interfaces.DomainShares, error) {
	args := m.Called(ctx, domain, old, next)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.DomainShares), args.Error(1)
}

func (m *MockResharer) AvailableOldParticipants(ctx context.Context, old interfaces.ParticipantSet) (int, error) {
	args := m.Called(ctx, old)
	return args.Int(0), args.Error(1)
}

func (m *MockResharer) Sign(ctx context.Context, domain interfaces.DomainID, payload []byte) ([]byte, error) {
	args := m.Called(ctx, domain, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockResharer) DeriveKey(ctx context.Context, domain interfaces.DomainID, payload []byte) ([]byte, error) {
	args := m.Called(ctx, domain, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

var (
	_ interfaces.ShareResharer   = (*MockResharer)(nil)
	_ interfaces.ThresholdSigner = (*MockResharer)(nil)
)
