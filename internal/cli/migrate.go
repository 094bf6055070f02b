package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/septivank/health-sync-worker/internal/config"
	"github.com/septivank/health-sync-worker/internal/db/migrate"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	DatabaseURL string
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the embedded schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		Example: `  healthctl migrate up
  healthctl migrate down --database-url postgres://localhost:5432/health`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "database URL (defaults to DATABASE_URL)")

	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command, direction string) error {
	url := opts.DatabaseURL
	if url == "" {
		config.LoadDotEnv()
		url = os.Getenv("DATABASE_URL")
	}

	if err := migrate.Run(url, direction); err != nil {
		return err
	}

	return writeResult(cmd.OutOrStdout(), opts.Format,
		fmt.Sprintf("migrations applied (%s)", direction),
		map[string]string{"direction": direction, "status": "ok"},
	)
}
