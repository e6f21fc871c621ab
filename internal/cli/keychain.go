package cli

import (
	"fmt"

	"github.com/atinyakov/tinysecrets/internal/repository"
	"github.com/atinyakov/tinysecrets/internal/service"
	"github.com/spf13/cobra"
)

func (a *App) keychainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keychain",
		Short: "Manage system keychain integration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show keychain status",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				_, found, err := a.Keychain.Get()
				if err != nil {
					return err
				}
				if found {
					fmt.Fprintf(a.Out, "%s Passphrase is stored in keychain\n", green("✓"))
				} else {
					fmt.Fprintf(a.Out, "%s No passphrase stored in keychain\n", yellow("○"))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "save",
			Short: "Verify and store the passphrase in the keychain",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				conn, err := a.connect(true)
				if err != nil {
					return err
				}
				defer conn.Close()

				pass, _, err := a.Passphrases.Existing()
				if err != nil {
					return err
				}
				defer clear(pass)

				store, err := service.Open(cmd.Context(), repository.NewSQLRepository(conn), pass, a.storeOptions()...)
				if err != nil {
					return err
				}
				store.Close()

				if err := a.Keychain.Set(pass); err != nil {
					return err
				}
				fmt.Fprintf(a.Err, "%s Passphrase saved to keychain\n", green("✓"))
				return nil
			},
		},
		&cobra.Command{
			Use:     "clear",
			Aliases: []string{"delete"},
			Short:   "Remove passphrase from keychain",
			Args:    cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				deleted, err := a.Keychain.Delete()
				if err != nil {
					return err
				}
				if deleted {
					fmt.Fprintf(a.Err, "%s Passphrase removed from keychain\n", green("✓"))
				} else {
					fmt.Fprintf(a.Err, "%s No passphrase was stored in keychain\n", yellow("○"))
				}
				return nil
			},
		},
	)
	return cmd
}
