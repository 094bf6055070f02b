package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/septivank/health-sync-worker/internal/db"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Pipeline string // optional - overrides the archived tag
}

type rawExportLoader interface {
	GetRawExport(ctx context.Context, id uuid.UUID) (*db.RawExport, error)
}

type replayer interface {
	Replay(ctx context.Context, exp *db.RawExport, pipeline string) (any, error)
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <raw-export-id>",
		Short: "Re-run an archived export through its pipeline",
		Long: `Load an archived raw export and run it through the pipeline recorded in
its tag. Verbatim captures carry no tag and need --pipeline. Replays are
idempotent and are not archived again.

Examples:
  healthctl replay 7f1c0a52-8f0e-4d7c-9a55-0a3c1f7f2b11
  healthctl replay 7f1c0a52-8f0e-4d7c-9a55-0a3c1f7f2b11 --pipeline workouts-sync --format json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid raw export id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := newRuntime(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runReplay(ctx, opts, cmd, rt.repo, rt.service, id)
		},
	}

	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "pipeline to use instead of the archived tag")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command, loader rawExportLoader, r replayer, id uuid.UUID) error {
	exp, err := loader.GetRawExport(ctx, id)
	if err != nil {
		return err
	}

	result, err := r.Replay(ctx, exp, opts.Pipeline)
	if err != nil {
		return fmt.Errorf("failed to replay raw export %s: %w", id, err)
	}

	return writeResult(cmd.OutOrStdout(), opts.Format,
		fmt.Sprintf("replayed raw export %s (received %s)", id, exp.ReceivedAt.Format("2006-01-02 15:04:05")),
		result,
	)
}
