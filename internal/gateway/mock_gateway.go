package gateway

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGateway is a mock implementation of the Gateway interface for testing.
type MockGateway struct {
	mock.Mock
}

// CreateDocument is the mock implementation of the CreateDocument method.
func (m *MockGateway) CreateDocument(ctx context.Context, category string, payload map[string]any) (string, error) {
	args := m.Called(ctx, category, payload)
	return args.String(0), args.Error(1)
}

// ListCollectionNames is the mock implementation of the ListCollectionNames method.
func (m *MockGateway) ListCollectionNames(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

// Close is the mock implementation of the Close method.
func (m *MockGateway) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}
