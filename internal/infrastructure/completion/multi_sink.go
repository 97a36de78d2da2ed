package completion

import (
	"context"
	"errors"

	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/service"
)

var _ service.CompletionSink = MultiSink(nil)

// MultiSink fans a record out to every sink. All sinks are tried even when one fails.
type MultiSink []service.CompletionSink

func (m MultiSink) Record(ctx context.Context, record models.CompletionRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
