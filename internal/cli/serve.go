package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sakif/imagine/internal/config"
	"github.com/sakif/imagine/internal/repository/sqldb"
	"github.com/sakif/imagine/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the HTTP API server until SIGINT or SIGTERM.

In-flight requests get the configured shutdown timeout to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

			srv, err := server.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			return srv.Start(cmd.Context())
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Create or upgrade the database schema.

Migrations are idempotent and also run when the server starts; this command
lets a deployment apply them ahead of time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}

			// Open runs the migrations.
			db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN())
			if err != nil {
				return err
			}
			defer db.Close()

			f := newFormatter(rootOpts, cmd.OutOrStdout())
			return f.Success(map[string]string{"driver": db.Driver()}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Schema up to date (%s)\n", db.Driver())
			})
		},
	}
}
