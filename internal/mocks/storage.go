package mocks

import (
	"context"

	"github.com/arbormd/arbor"
	"github.com/stretchr/testify/mock"
)

// MockStorage implements tree.Storage for testing across packages
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) List(ctx context.Context, path string) ([]*arbor.FileNode, error) {
	args := m.Called(ctx, path)

	// Handle function return types (for tests that mutate state between calls)
	if fn, ok := args.Get(0).(func(context.Context, string) []*arbor.FileNode); ok {
		return fn(ctx, path), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*arbor.FileNode), args.Error(1)
}

func (m *MockStorage) ReadFile(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorage) WriteFile(ctx context.Context, path string, data []byte) error {
	args := m.Called(ctx, path, data)
	return args.Error(0)
}

func (m *MockStorage) CreateFile(ctx context.Context, path string) error {
	args := m.Called(ctx, path)

	// Handle function return types (for tests that block until released)
	if fn, ok := args.Get(0).(func(context.Context, string) error); ok {
		return fn(ctx, path)
	}
	return args.Error(0)
}

func (m *MockStorage) CreateFolder(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	if fn, ok := args.Get(0).(func(context.Context, string) error); ok {
		return fn(ctx, path)
	}
	return args.Error(0)
}

func (m *MockStorage) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	if fn, ok := args.Get(0).(func(context.Context, string) error); ok {
		return fn(ctx, path)
	}
	return args.Error(0)
}

func (m *MockStorage) Rename(ctx context.Context, oldPath, newPath string) error {
	args := m.Called(ctx, oldPath, newPath)
	if fn, ok := args.Get(0).(func(context.Context, string, string) error); ok {
		return fn(ctx, oldPath, newPath)
	}
	return args.Error(0)
}
