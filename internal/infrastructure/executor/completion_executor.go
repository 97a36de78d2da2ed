// Package executor provides the work unit run for each dequeued task.
package executor

import (
	"context"
	"fmt"

	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/service"
	"github.com/turtacn/taskgate/pkg/logger"
	"github.com/turtacn/taskgate/pkg/utils"
)

var _ service.WorkExecutor = (*CompletionExecutor)(nil)

// CompletionExecutor simulates the task and records its completion.
type CompletionExecutor struct {
	sink   service.CompletionSink
	clock  service.Clock
	logger logger.Logger
}

// NewCompletionExecutor creates an executor writing to sink. A nil clock uses the wall clock.
func NewCompletionExecutor(sink service.CompletionSink, clock service.Clock, log logger.Logger) *CompletionExecutor {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &CompletionExecutor{
		sink:   sink,
		clock:  clock,
		logger: log.WithComponent("CompletionExecutor"),
	}
}

// Execute logs the completion line and appends it to the sink.
func (e *CompletionExecutor) Execute(ctx context.Context, token models.TaskToken) error {
	record := models.CompletionRecord{
		UserID:      token.UserID,
		TaskID:      token.ID,
		EnqueuedAt:  token.EnqueuedAt,
		CompletedAt: e.clock.Now().UTC(),
	}

	e.logger.Info(ctx, record.Line(),
		logger.UserID(record.UserID),
		logger.String("task_id", record.TaskID),
	)

	if err := e.sink.Record(ctx, record); err != nil {
		return fmt.Errorf("record completion for task %s: %w", record.TaskID, err)
	}
	return nil
}
