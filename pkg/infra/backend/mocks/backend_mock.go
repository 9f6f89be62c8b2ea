package mocks

import (
	"context"
	"fmt"
	"net/http"

	"github.com/NeuralTrust/GuardProxy/pkg/infra/backend"
	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify double for backend.Backend.
type MockBackend struct {
	mock.Mock
}

var _ backend.Backend = (*MockBackend)(nil)

func (m *MockBackend) Do(ctx context.Context, r backend.Request) (*types.ResponseContext, error) {
	args := m.Called(ctx, r)
	resp, ok := args.Get(0).(*types.ResponseContext)
	if !ok && args.Get(0) != nil {
		return nil, fmt.Errorf("expected *types.ResponseContext, got %T", args.Get(0))
	}
	return resp, args.Error(1)
}

func (m *MockBackend) Stream(ctx context.Context, r backend.Request) (*http.Response, error) {
	args := m.Called(ctx, r)
	resp, ok := args.Get(0).(*http.Response)
	if !ok && args.Get(0) != nil {
		return nil, fmt.Errorf("expected *http.Response, got %T", args.Get(0))
	}
	return resp, args.Error(1)
}
