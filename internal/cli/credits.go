package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/service"
)

// NewCreditsCommand creates the credits command group.
func NewCreditsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and grant user credits",
	}
	cmd.AddCommand(newCreditsGrantCommand(rootOpts))
	cmd.AddCommand(newCreditsShowCommand(rootOpts))
	return cmd
}

func newCreditsGrantCommand(rootOpts *RootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Add credits to a user, creating the profile if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}

			e, err := openEnv(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			credits := service.NewCreditService(e.db, e.credits, e.logger)
			p, err := credits.Grant(cmd.Context(), args[0], email, amount)
			if err != nil {
				return err
			}

			f := newFormatter(rootOpts, cmd.OutOrStdout())
			return f.Success(p, line("✓ Granted %d credit(s) to %s, balance %d", amount, p.ID, p.Credits))
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email to store on a newly created profile")
	return cmd
}

func newCreditsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			f := newFormatter(rootOpts, cmd.OutOrStdout())

			credits := service.NewCreditService(e.db, e.credits, e.logger)
			p, err := credits.Profile(cmd.Context(), args[0])
			if errors.Is(err, apperror.ErrNotFound) {
				return f.Success(map[string]any{"id": args[0], "credits": 0},
					line("%s has no profile (0 credits)", args[0]))
			}
			if err != nil {
				return err
			}

			return f.Success(p, line("%s <%s>: %d credit(s)", p.ID, p.Email, p.Credits))
		},
	}
}
