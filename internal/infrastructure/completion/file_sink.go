// Package completion implements the append-only destinations for task completion records.
package completion

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/service"
)

var _ service.CompletionSink = (*FileSink)(nil)

// FileSink appends one completion line per record to a rolling log file.
type FileSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileSink opens the completion log described by cfg.
func NewFileSink(cfg config.FileSinkConfig) *FileSink {
	return newWriterSink(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   cfg.Compress,
	})
}

func newWriterSink(w io.WriteCloser) *FileSink {
	return &FileSink{w: w}
}

// Record appends "<user_id> - Task completed at - <timestamp>".
func (s *FileSink) Record(_ context.Context, record models.CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.w, record.Line()); err != nil {
		return fmt.Errorf("append completion line: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
