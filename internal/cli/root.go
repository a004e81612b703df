// Package cli implements the imagine command line: the server itself plus
// the operator commands that work directly against the database.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sakif/imagine/internal/cache"
	"github.com/sakif/imagine/internal/config"
	"github.com/sakif/imagine/internal/repository/sqldb"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "imagine",
		Short: "Credit-metered AI image generation service",
		Long: `imagine serves the image generation API and provides operator
commands for the credit ledger and generation records.

Configuration is read from defaults, an optional YAML file (--config) and
environment variables, in that order.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error once
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCreditsCommand(opts))
	cmd.AddCommand(NewGenerationsCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// env is what every operator command needs: config, a logger, the store,
// and the credit cache so CLI changes are visible to the API at once.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sqldb.DB
	credits cache.CreditCache
	close   func()
}

// openEnv loads the config and opens the database (running migrations).
// Redis is dialed only when configured.
func openEnv(ctx context.Context, opts *RootOptions, logOut io.Writer) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger(logOut)

	db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		credits: cache.NopCreditCache{},
		close:   func() { db.Close() },
	}

	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			// The database is the source of truth; a stale cached balance
			// expires on its own within the TTL.
			logger.Warn("redis unavailable, cached balances will not be invalidated",
				slog.String("error", err.Error()),
			)
			return e, nil
		}
		e.credits = cache.NewRedisCreditCache(client, cfg.Redis.CreditTTL)
		e.close = func() {
			client.Close()
			db.Close()
		}
	}

	return e, nil
}
