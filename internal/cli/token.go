package cli

import (
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/imagine/internal/auth"
	"github.com/sakif/imagine/internal/config"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a session token for local development",
		Long: `Mint a session token signed with the configured JWT secret.

The token carries the same claims the identity provider issues, so it is
accepted by the API as long as the server uses the same secret. Use it with:

  curl -H "Authorization: Bearer $(imagine token user-1)" localhost:8080/api/me`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("no JWT secret configured: set JWT_SECRET")
			}

			ts, err := auth.NewTokenService(cfg.Auth.JWTSecret, auth.TokenOptions{
				Issuer:   cfg.Auth.Issuer,
				Audience: cfg.Auth.Audience,
			})
			if err != nil {
				return err
			}

			token, err := ts.GenerateWithDuration(args[0], email, ttl)
			if err != nil {
				return err
			}

			f := newFormatter(rootOpts, cmd.OutOrStdout())
			return f.Success(map[string]string{"token": token}, func(w io.Writer) {
				io.WriteString(w, token+"\n")
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
