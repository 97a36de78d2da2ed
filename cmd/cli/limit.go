package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/taskgate/internal/application/dto"
	"github.com/turtacn/taskgate/internal/infrastructure/ratelimit"
	"github.com/turtacn/taskgate/pkg/utils"
)

func newLimitCommand(opts *rootOptions) *cobra.Command {
	limit := &cobra.Command{
		Use:   "limit",
		Short: "Inspect or reset a user's sliding windows",
	}

	withLimiter := func(cmd *cobra.Command, userID string, fn func(*ratelimit.SlidingWindowLimiter) error) error {
		if err := utils.ValidateUserID(userID); err != nil {
			return err
		}
		e, err := opts.connect(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		limiter, err := ratelimit.NewSlidingWindowLimiter(e.redis.Client(), ratelimit.SlidingWindowConfigFrom(&e.cfg.RateLimit), e.log)
		if err != nil {
			return err
		}
		return fn(limiter)
	}

	show := &cobra.Command{
		Use:   "show <user_id>",
		Short: "Show the current window counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(cmd, args[0], func(l *ratelimit.SlidingWindowLimiter) error {
				usage, err := l.Usage(cmd.Context(), args[0], time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto.NewUsageResponse(usage))
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <user_id>",
		Short: "Delete both windows so the user is admitted again immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(cmd, args[0], func(l *ratelimit.SlidingWindowLimiter) error {
				if err := l.Reset(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rate limit windows reset for %s\n", args[0])
				return nil
			})
		},
	}

	limit.AddCommand(show, reset)
	return limit
}
