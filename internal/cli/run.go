package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

func (a *App) runCommand() *cobra.Command {
	var project, environment string
	cmd := &cobra.Command{
		Use:     "run -- COMMAND [ARGS...]",
		Aliases: []string{"r"},
		Short:   "Run a command with secrets injected as environment variables",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, e, err := a.resolve(project, environment)
			if err != nil {
				return err
			}
			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			secrets, err := store.GetAll(cmd.Context(), p, e)
			release()
			if err != nil {
				return err
			}

			if len(secrets) == 0 {
				fmt.Fprintf(a.Err, "%s No secrets found for %s/%s\n", yellow("⚠"), cyan(p), yellow(e))
			} else {
				fmt.Fprintf(a.Err, "%s Loaded %s secrets for %s/%s\n", green("✓"), bold(len(secrets)), cyan(p), yellow(e))
			}

			child := exec.CommandContext(cmd.Context(), args[0], args[1:]...)
			child.Env = os.Environ()
			for _, kv := range secrets {
				child.Env = append(child.Env, kv.Key+"="+kv.Value)
			}
			child.Stdin = a.In
			child.Stdout = a.Out
			child.Stderr = a.Err

			err = child.Run()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return &ExitError{Code: exitErr.ExitCode()}
			}
			if err != nil {
				return fmt.Errorf("failed to execute %s: %w", args[0], err)
			}
			return nil
		},
	}
	scopeFlags(cmd, &project, &environment)
	return cmd
}
