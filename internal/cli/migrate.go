package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Re-encrypt legacy secrets in the current format",
		Long: `Rewrites every current secret still stored in the legacy (age) format
with the current fast format. Already migrated secrets are skipped, so the
command is safe to re-run. History is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			res, err := store.MigrateAll(cmd.Context())
			for _, f := range res.Failed {
				fmt.Fprintf(a.Err, "  %s %s: %v\n", red("✗"), bold(f.Identity), f.Err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(a.Err, "%s Migrated %s secrets, %d already current\n", green("✓"), bold(res.Migrated), res.AlreadyCurrent)
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d secrets could not be migrated", len(res.Failed))
			}
			return nil
		},
	}
}
