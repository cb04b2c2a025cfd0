package store

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of TrackStore for worker tests.
type MockStore struct {
	mock.Mock
}

var _ TrackStore = (*MockStore)(nil)

func (m *MockStore) EnsureConnected(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) SetStatus(ctx context.Context, trackID string, status TrackStatus) error {
	args := m.Called(ctx, trackID, status)
	return args.Error(0)
}

func (m *MockStore) MarkFailed(ctx context.Context, trackID, reason string) error {
	args := m.Called(ctx, trackID, reason)
	return args.Error(0)
}

func (m *MockStore) UpsertEmbedding(ctx context.Context, trackID string, vec []float32, modelVersion string) error {
	args := m.Called(ctx, trackID, vec, modelVersion)
	return args.Error(0)
}

func (m *MockStore) GetTrackAnalysis(ctx context.Context, trackID string) (*TrackAnalysis, error) {
	args := m.Called(ctx, trackID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TrackAnalysis), args.Error(1)
}

func (m *MockStore) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
