package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/imagine/internal/model"
	"github.com/sakif/imagine/internal/service"
)

// DefaultStaleAfter is how long a generation may stay pending before it is
// considered abandoned. Well above the inference timeout.
const DefaultStaleAfter = 15 * time.Minute

// NewGenerationsCommand creates the generations command group.
func NewGenerationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generations",
		Short: "Inspect generation records",
	}
	cmd.AddCommand(newGenerationsStaleCommand(rootOpts))
	cmd.AddCommand(newGenerationsShowCommand(rootOpts))
	return cmd
}

func newGenerationsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <generation-id>",
		Short: "Show one generation record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			generations := service.NewGenerationService(e.db, e.db, nil, e.credits, nil, e.logger, 0)
			gen, err := generations.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			f := newFormatter(rootOpts, cmd.OutOrStdout())
			return f.Success(gen, func(w io.Writer) {
				fmt.Fprintf(w, "%s  user=%s  status=%s\n", gen.ID, gen.UserID, gen.Status)
				fmt.Fprintf(w, "  prompt:   %q\n", gen.Prompt)
				fmt.Fprintf(w, "  settings: aspect=%s outputs=%d hdr=%t\n",
					gen.Settings.AspectRatio, gen.Settings.NumOutputs, gen.Settings.HDR)
				fmt.Fprintf(w, "  created:  %s\n", gen.CreatedAt.Format(time.RFC3339))
				if !gen.Status.Terminal() {
					fmt.Fprintf(w, "  still pending after %s\n", time.Since(gen.CreatedAt).Round(time.Second))
					return
				}
				fmt.Fprintf(w, "  finished: %s\n", gen.UpdatedAt.Format(time.RFC3339))
				if gen.Error != "" {
					fmt.Fprintf(w, "  error:    %s\n", gen.Error)
				}
			})
		},
	}
}

func newGenerationsStaleCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		olderThan time.Duration
		fail      bool
	)

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List generations stuck in pending",
		Long: `List generations still pending after --older-than.

A generation is only left pending when the server stopped between spending
the credit and recording the result. With --fail, each one is marked failed
and its credit is refunded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			e, err := openEnv(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			// No model calls happen here, so no generator is needed.
			generations := service.NewGenerationService(e.db, e.db, nil, e.credits, nil, e.logger, 0)

			var gens []model.Generation
			if fail {
				gens, err = generations.FailStale(cmd.Context(), olderThan)
			} else {
				gens, err = generations.ListStale(cmd.Context(), olderThan)
			}
			if err != nil {
				return err
			}

			f := newFormatter(rootOpts, cmd.OutOrStdout())
			return f.Success(gens, func(w io.Writer) {
				verb := "pending"
				if fail {
					verb = "failed and refunded"
				}
				fmt.Fprintf(w, "%d generation(s) %s\n", len(gens), verb)
				for _, g := range gens {
					fmt.Fprintf(w, "  %s  user=%s  created=%s  %q\n",
						g.ID, g.UserID, g.CreatedAt.Format(time.RFC3339), truncate(g.Prompt, 60))
				}
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", DefaultStaleAfter, "minimum time spent pending")
	cmd.Flags().BoolVar(&fail, "fail", false, "mark them failed and refund the credit")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
