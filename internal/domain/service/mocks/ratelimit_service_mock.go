package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/taskgate/internal/domain/models"
)

// MockRateLimitService is a mock implementation of RateLimitService
type MockRateLimitService struct {
	mock.Mock
}

func (m *MockRateLimitService) Admit(ctx context.Context, userID string, now time.Time) (*models.AdmissionDecision, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AdmissionDecision), args.Error(1)
}

func (m *MockRateLimitService) Usage(ctx context.Context, userID string, now time.Time) (*models.WindowUsage, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WindowUsage), args.Error(1)
}

func (m *MockRateLimitService) Reset(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}
