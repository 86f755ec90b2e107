// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// -- Planning Oracle Mock --

// MockGenerator mocks planner.Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// -- History Mock --

// MockEventRecorder mocks schemas.EventRecorder.
type MockEventRecorder struct {
	mock.Mock
}

func (m *MockEventRecorder) Record(ctx context.Context, event schemas.ShoppingEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// -- Browser Manager Mock --

// MockBrowserManager mocks schemas.BrowserManager.
type MockBrowserManager struct {
	mock.Mock
}

func (m *MockBrowserManager) NewSession(ctx context.Context, opts schemas.SessionOptions) (schemas.BrowserSession, error) {
	args := m.Called(ctx, opts)
	if s := args.Get(0); s != nil {
		return s.(schemas.BrowserSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBrowserManager) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
