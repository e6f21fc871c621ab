package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atinyakov/tinysecrets/internal/dotenv"
	"github.com/atinyakov/tinysecrets/internal/models"
	"github.com/atinyakov/tinysecrets/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func (a *App) exportCommand() *cobra.Command {
	var project, environment, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export secrets to an encrypted bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, e, err := a.resolve(project, environment)
			if err != nil {
				return err
			}
			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			bundle, err := store.Export(cmd.Context(), p, e)
			if err != nil {
				return err
			}
			if len(bundle.Secrets) == 0 {
				return fmt.Errorf("no secrets found for %s/%s", p, e)
			}

			if output == "" {
				if err := service.EncodeBundle(a.Out, bundle); err != nil {
					return err
				}
			} else if err := writeBundle(output, bundle); err != nil {
				return err
			}

			fmt.Fprintf(a.Err, "%s Exported %s secrets from %s/%s\n", green("✓"), bold(len(bundle.Secrets)), cyan(p), yellow(e))
			if output != "" {
				fmt.Fprintf(a.Err, "  Saved to %s\n", cyan(output))
			}
			return nil
		},
	}
	scopeFlags(cmd, &project, &environment)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout if not specified)")
	return cmd
}

// writeBundle writes bundle to path, reporting a failed close.
func writeBundle(path string, bundle *models.ExportBundle) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := service.EncodeBundle(f, bundle); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (a *App) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import secrets from an encrypted bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			bundle, err := service.DecodeBundle(data)
			if err != nil {
				return err
			}

			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			n, err := store.Import(cmd.Context(), bundle)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.Err, "%s Imported %s secrets into %s/%s\n", green("✓"), bold(n), cyan(bundle.Project), yellow(bundle.Environment))
			return nil
		},
	}
}

func (a *App) importEnvCommand() *cobra.Command {
	var project, environment, file string
	cmd := &cobra.Command{
		Use:     "import-env",
		Aliases: []string{"ie"},
		Short:   "Import environment variables from stdin or a file",
		Long: `Imports KEY=VALUE lines (also "export KEY=VALUE" and "KEY: VALUE").

Examples:
  heroku config | tinysecrets import-env -p myapp -e staging
  cat .env | tinysecrets import-env -p myapp -e dev
  tinysecrets import-env -p myapp -e dev -f .env.example`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, e, err := a.resolve(project, environment)
			if err != nil {
				return err
			}

			var in io.Reader = a.In
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to read file: %w", err)
				}
				defer f.Close()
				in = f
			} else if f, ok := a.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return errors.New("no input provided. Pipe data or specify a file with -f")
			}

			parsed, err := dotenv.Parse(in)
			if err != nil {
				return err
			}

			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			for _, kv := range parsed.Pairs {
				id := models.Identity{Project: p, Environment: e, Key: kv.Key}
				if _, err := store.Set(cmd.Context(), id, kv.Value, nil); err != nil {
					return err
				}
				fmt.Fprintf(a.Err, "  %s %s\n", green("✓"), bold(kv.Key))
			}
			for _, key := range parsed.Empty {
				fmt.Fprintf(a.Err, "  %s %s (empty value)\n", yellow("○"), faint(key))
			}
			for _, line := range parsed.Unparseable {
				fmt.Fprintf(a.Err, "  %s %s (couldn't parse)\n", yellow("○"), faint(line))
			}

			fmt.Fprintln(a.Err)
			switch {
			case len(parsed.Pairs) > 0:
				fmt.Fprintf(a.Err, "%s Imported %s secrets into %s/%s\n", green("✓"), bold(len(parsed.Pairs)), cyan(p), yellow(e))
			case len(parsed.Unparseable) == 0 && len(parsed.Empty) == 0:
				fmt.Fprintf(a.Err, "%s No secrets found in input\n", yellow("○"))
			}
			if skipped := len(parsed.Unparseable) + len(parsed.Empty); skipped > 0 {
				fmt.Fprintf(a.Err, "%s Skipped %d lines\n", yellow("○"), skipped)
			}
			return nil
		},
	}
	scopeFlags(cmd, &project, &environment)
	cmd.Flags().StringVarP(&file, "file", "f", "", "read from file instead of stdin")
	return cmd
}
