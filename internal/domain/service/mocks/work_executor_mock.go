package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/taskgate/internal/domain/models"
)

// MockWorkExecutor is a mock implementation of WorkExecutor
type MockWorkExecutor struct {
	mock.Mock
}

func (m *MockWorkExecutor) Execute(ctx context.Context, token models.TaskToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// MockCompletionSink is a mock implementation of CompletionSink
type MockCompletionSink struct {
	mock.Mock
}

func (m *MockCompletionSink) Record(ctx context.Context, record models.CompletionRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockCompletionSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockMetrics is a mock implementation of Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordAdmission(allowed bool) { m.Called(allowed) }
func (m *MockMetrics) RecordEnqueue()               { m.Called() }
func (m *MockMetrics) RecordExecution(success bool, queueWait, duration time.Duration) {
	m.Called(success, queueWait, duration)
}
func (m *MockMetrics) DrainLoopStarted()      { m.Called() }
func (m *MockMetrics) DrainLoopStopped()      { m.Called() }
func (m *MockMetrics) RecordDrainContention() { m.Called() }
