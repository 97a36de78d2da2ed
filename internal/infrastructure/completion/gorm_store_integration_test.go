//go:build integration

package completion

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/domain/models"
)

func TestGormStore_Postgres(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("taskgate"),
		postgres.WithUsername("taskgate"),
		postgres.WithPassword("taskgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	}()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := OpenDatabase(config.DatabaseConfig{Enabled: true, Driver: "postgres", DSN: dsn, MaxOpenConns: 5})
	require.NoError(t, err)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := models.CompletionRecord{
			UserID:      "123",
			TaskID:      fmt.Sprintf("task-%d", i),
			EnqueuedAt:  base.Add(time.Duration(i) * time.Second),
			CompletedAt: base.Add(time.Duration(i)*time.Second + 500*time.Millisecond),
		}
		require.NoError(t, store.Record(ctx, rec))
		// Replays from the archive consumer must be harmless.
		require.NoError(t, store.Save(ctx, rec))
	}

	all, err := store.ListByUser(ctx, "123", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "task-4", all[0].TaskID)

	recent, err := store.ListByUser(ctx, "123", base.Add(3*time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
