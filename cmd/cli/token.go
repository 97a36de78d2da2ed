package cli

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/turtacn/taskgate/internal/interfaces/http/middleware"
	"github.com/turtacn/taskgate/pkg/constants"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		ttl     time.Duration
		subject string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token for the /admin routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Admin.JWTSecret) < 16 {
				return fmt.Errorf("admin.jwt_secret is not configured")
			}

			now := time.Now()
			claims := middleware.AdminClaims{
				Scope: constants.AdminScope,
				RegisteredClaims: jwt.RegisteredClaims{
					ID:        uuid.NewString(),
					Subject:   subject,
					Issuer:    cfg.Admin.Issuer,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Admin.JWTSecret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&subject, "subject", "taskgate-admin", "sub claim")
	return cmd
}
