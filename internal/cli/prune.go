package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
}

type sweeper interface {
	Sweep(ctx context.Context) int64
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:          "prune",
		Short:        "Delete raw exports older than RAW_EXPORT_RETENTION",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := newRuntime(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runPrune(ctx, opts, cmd, rt.archivist)
		},
	}

	return cmd
}

func runPrune(ctx context.Context, opts *PruneOptions, cmd *cobra.Command, s sweeper) error {
	deleted := s.Sweep(ctx)
	return writeResult(cmd.OutOrStdout(), opts.Format,
		fmt.Sprintf("pruned %d raw exports", deleted),
		map[string]int64{"deleted": deleted},
	)
}
