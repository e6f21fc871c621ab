package cli

import (
	"fmt"

	"github.com/atinyakov/tinysecrets/internal/passphrase"
	"github.com/atinyakov/tinysecrets/internal/repository"
	"github.com/atinyakov/tinysecrets/internal/service"
	"github.com/spf13/cobra"
)

func (a *App) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Aliases: []string{"i"},
		Short:   "Initialize a new secrets store",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := a.connect(false)
			if err != nil {
				return err
			}
			defer conn.Close()
			repo := repository.NewSQLRepository(conn)

			if _, err := repo.GetMeta(cmd.Context(), repository.MetaSchemaVersion); err == nil {
				fmt.Fprintf(a.Err, "%s Store already exists at %s\n", yellow("⚠"), cyan(a.location()))
				return nil
			}

			fmt.Fprintln(a.Err, cyan("Creating new secrets store..."))
			pass, src, err := a.Passphrases.New()
			if err != nil {
				return err
			}
			defer clear(pass)
			if src == passphrase.SourceEnv {
				fmt.Fprintf(a.Err, "🔐 Using passphrase from %s for new store\n", cyan(passphrase.EnvVar))
			}

			store, err := service.Init(cmd.Context(), repo, pass, a.storeOptions()...)
			if err != nil {
				return err
			}
			defer store.Close()

			if src == passphrase.SourcePrompt {
				a.offerKeychain(pass, "Save passphrase to system keychain?")
			}

			fmt.Fprintf(a.Err, "%s Store created at %s\n", green("✓"), cyan(a.location()))
			fmt.Fprintf(a.Err, "  %s\n", faint("Next: tinysecrets config init <project> [environment]"))
			return nil
		},
	}
}
