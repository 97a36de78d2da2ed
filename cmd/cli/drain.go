package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/taskgate/internal/domain/service"
	"github.com/turtacn/taskgate/internal/infrastructure/completion"
	"github.com/turtacn/taskgate/internal/infrastructure/executor"
	"github.com/turtacn/taskgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/taskgate/pkg/utils"
)

func newDrainCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "drain <user_id>",
		Short: "Drain a stalled backlog in the foreground",
		Long: `drain takes the user's drain flag and runs the loop in this process until
the queue is empty, pacing executions like the server does. It does nothing
when another process already owns the flag.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			if err := utils.ValidateUserID(userID); err != nil {
				return err
			}
			e, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			sink := completion.NewFileSink(e.cfg.Completion.File)
			defer sink.Close()

			store := redis.NewTaskStore(e.redis.Client(), e.log)
			scheduler := service.NewQueueDrainScheduler(store,
				executor.NewCompletionExecutor(sink, utils.SystemClock{}, e.log),
				service.SchedulerConfig{
					ThrottleInterval: e.cfg.Scheduler.ThrottleInterval,
					LeaseTTL:         e.cfg.Scheduler.LeaseTTL,
					InstanceID:       "taskgate-admin",
				}, e.log)
			defer func() { _ = scheduler.Shutdown(context.Background()) }()

			started, err := scheduler.Resume(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if !started {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already being drained by another process\n", userID)
				return nil
			}

			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			deadline := time.After(timeout)
			for scheduler.ActiveLoops() > 0 {
				select {
				case <-ticker.C:
				case <-deadline:
					fmt.Fprintln(cmd.OutOrStdout(), "timeout reached, leaving the rest of the backlog queued")
					return nil
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			}

			stats, err := store.Stats(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "stop draining after this long")
	return cmd
}
