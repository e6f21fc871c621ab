package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/atinyakov/tinysecrets/internal/models"
	"github.com/atinyakov/tinysecrets/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func (a *App) setCommand() *cobra.Command {
	var project, environment, description string
	cmd := &cobra.Command{
		Use:     "set KEY [VALUE]",
		Aliases: []string{"s"},
		Short:   "Set a secret value",
		Long: `Sets a secret value. Without VALUE the value is read from piped stdin,
or from $EDITOR when stdin is a terminal.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, e, err := a.resolve(project, environment)
			if err != nil {
				return err
			}
			id := models.Identity{Project: p, Environment: e, Key: args[0]}

			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			var value string
			if len(args) == 2 {
				value = args[1]
			} else if value, err = a.readValue(id); err != nil {
				return err
			}

			var desc *string
			if cmd.Flags().Changed("description") {
				desc = &description
			}
			version, err := store.Set(cmd.Context(), id, value, desc)
			if err != nil {
				return err
			}

			verb := "Updated"
			if version == 1 {
				verb = "Created"
			}
			fmt.Fprintf(a.Err, "%s %s %s %s\n", green("✓"), verb, label(p, e, id.Key), faint(fmt.Sprintf("(v%d)", version)))
			return nil
		},
	}
	scopeFlags(cmd, &project, &environment)
	cmd.Flags().StringVarP(&description, "description", "d", "", "description of the secret")
	return cmd
}

// readValue reads a value from piped stdin, else from an editor session.
func (a *App) readValue(id models.Identity) (string, error) {
	if f, ok := a.In.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		data, err := io.ReadAll(a.In)
		if err != nil {
			return "", fmt.Errorf("read value: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	return editValue(id)
}

func editValue(id models.Identity) (string, error) {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		return "", errors.New("failed to open editor. Set $EDITOR or pass value directly")
	}

	f, err := os.CreateTemp("", "tinysecrets-*.txt")
	if err != nil {
		return "", fmt.Errorf("create editor file: %w", err)
	}
	defer os.Remove(f.Name())
	fmt.Fprintf(f, "# Enter the value for %s\n# Lines starting with # will be ignored\n", id)
	f.Close()

	parts := strings.Fields(editor)
	cmd := exec.Command(parts[0], append(parts[1:], f.Name())...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run editor: %w", err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		return "", fmt.Errorf("read editor file: %w", err)
	}
	defer clear(data)
	return stripComments(data), nil
}

func stripComments(data []byte) string {
	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "#") {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (a *App) getCommand() *cobra.Command {
	var (
		project, environment string
		version              int
	)
	cmd := &cobra.Command{
		Use:     "get KEY",
		Aliases: []string{"g"},
		Short:   "Get a secret value",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, e, err := a.resolve(project, environment)
			if err != nil {
				return err
			}
			id := models.Identity{Project: p, Environment: e, Key: args[0]}

			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			var (
				value string
				found bool
			)
			if cmd.Flags().Changed("version") {
				value, found, err = store.GetVersion(cmd.Context(), id, version)
			} else {
				value, found, err = store.Get(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("secret not found: %s", label(p, e, id.Key))
			}

			// Only the value goes to stdout so $(tinysecrets get KEY) works.
			fmt.Fprintln(a.Out, value)
			return nil
		},
	}
	scopeFlags(cmd, &project, &environment)
	cmd.Flags().IntVar(&version, "version", 0, "get a specific version from history")
	return cmd
}

func (a *App) deleteCommand() *cobra.Command {
	var project, environment string
	cmd := &cobra.Command{
		Use:     "delete KEY",
		Aliases: []string{"rm"},
		Short:   "Delete a secret (its history is kept)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, e, err := a.resolve(project, environment)
			if err != nil {
				return err
			}
			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			deleted, err := store.Delete(cmd.Context(), models.Identity{Project: p, Environment: e, Key: args[0]})
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("secret not found: %s", label(p, e, args[0]))
			}
			fmt.Fprintf(a.Err, "%s Deleted %s\n", green("✓"), label(p, e, args[0]))
			return nil
		},
	}
	scopeFlags(cmd, &project, &environment)
	return cmd
}

func (a *App) listCommand() *cobra.Command {
	var project, environment string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List secrets (values are not shown)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			entries, err := store.List(cmd.Context(), models.Filter{Project: project, Environment: environment})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(a.Err, "%s No secrets found\n", yellow("○"))
				return nil
			}

			w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECT\tENVIRONMENT\tKEY\tVERSION\tUPDATED\tDESCRIPTION")
			for _, e := range entries {
				desc := ""
				if e.Description != nil {
					desc = *e.Description
				}
				fmt.Fprintf(w, "%s\t%s\t%s\tv%d\t%s\t%s\n",
					e.Project, e.Environment, e.Key, e.Version, e.UpdatedAt.Format("2006-01-02 15:04"), desc)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "filter by project")
	cmd.Flags().StringVarP(&environment, "environment", "e", "", "filter by environment")
	return cmd
}

func (a *App) historyCommand() *cobra.Command {
	var (
		project, environment string
		limit                int
		show                 bool
	)
	cmd := &cobra.Command{
		Use:   "history KEY",
		Short: "Show secret history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, e, err := a.resolve(project, environment)
			if err != nil {
				return err
			}
			id := models.Identity{Project: p, Environment: e, Key: args[0]}

			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			return a.printHistory(cmd, store, id, limit, show)
		},
	}
	scopeFlags(cmd, &project, &environment)
	cmd.Flags().IntVarP(&limit, "limit", "n", service.DefaultHistoryLimit, "number of entries to show")
	cmd.Flags().BoolVarP(&show, "show", "s", false, "show the actual values")
	return cmd
}

func (a *App) printHistory(cmd *cobra.Command, store *service.Store, id models.Identity, limit int, show bool) error {
	ctx := cmd.Context()
	current, live, err := store.Latest(ctx, id)
	if err != nil {
		return err
	}
	entries, err := store.History(ctx, id, limit)
	if err != nil {
		return err
	}
	if !live && len(entries) == 0 {
		fmt.Fprintf(a.Err, "%s No history found for %s\n", yellow("○"), label(id.Project, id.Environment, id.Key))
		return nil
	}

	fmt.Fprintf(a.Out, "📜 History for %s\n\n", label(id.Project, id.Environment, id.Key))
	if live {
		fmt.Fprintf(a.Out, "  • v%s - %s %s\n", bold(current.Version), green("current"), faint("(latest)"))
		if show {
			value, err := store.Reveal(current.EncryptedValue)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "    %s\n", faint(value))
		}
	}

	for _, h := range entries {
		status := faint("archived")
		if h.Deleted() {
			status = red("deleted")
		}
		fmt.Fprintf(a.Out, "  • v%s - %s at %s\n", bold(h.Version), status, faint(h.CreatedAt.Format("2006-01-02 15:04:05 UTC")))
		if show && !h.Deleted() {
			value, err := store.Reveal(h.EncryptedValue)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "    %s\n", faint(value))
		}
	}

	if !show {
		fmt.Fprintf(a.Out, "\n  ℹ Use %s to show values\n", cyan("--show"))
	}
	return nil
}

func (a *App) projectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List all projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			projects, err := store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintf(a.Err, "%s No projects found\n", yellow("○"))
				return nil
			}
			for _, p := range projects {
				fmt.Fprintln(a.Out, p)
			}
			return nil
		},
	}
}

func (a *App) envsCommand() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "envs",
		Short: "List environments for a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.resolver()
			if err != nil {
				return err
			}
			p, err := r.Project(project)
			if err != nil {
				return err
			}

			store, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			envs, err := store.ListEnvironments(cmd.Context(), p)
			if err != nil {
				return err
			}
			if len(envs) == 0 {
				fmt.Fprintf(a.Err, "%s No environments found for %s\n", yellow("○"), cyan(p))
				return nil
			}
			for _, e := range envs {
				fmt.Fprintln(a.Out, e)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name (uses .tinysecrets.toml if not specified)")
	return cmd
}
