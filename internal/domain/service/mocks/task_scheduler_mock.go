package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/taskgate/internal/domain/models"
)

// MockTaskScheduler is a mock implementation of TaskScheduler
type MockTaskScheduler struct {
	mock.Mock
}

func (m *MockTaskScheduler) Enqueue(ctx context.Context, userID string, token models.TaskToken) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

func (m *MockTaskScheduler) Stats(ctx context.Context, userID string) (*models.TaskStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TaskStats), args.Error(1)
}

func (m *MockTaskScheduler) Resume(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTaskScheduler) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
