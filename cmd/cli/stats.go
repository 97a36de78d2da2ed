package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/taskgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/utils"
)

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user_id>",
		Short: "Print processed and queued counts for a user",
		Args:  cobra.ExactArgs(1),
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

			stats, err := redis.NewTaskStore(e.redis.Client(), e.log).Stats(cmd.Context(), userID)
			if err != nil {
				return errors.ErrStoreUnavailable("stats", err)
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}
