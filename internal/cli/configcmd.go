package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atinyakov/tinysecrets/internal/config"
	"github.com/spf13/cobra"
)

func (a *App) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage project configuration (.tinysecrets.toml)",
	}

	var project, environment string
	set := &cobra.Command{
		Use:   "set",
		Short: "Update project configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.projectFile()
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("no %s found. Run %s first", config.ProjectFileName, "tinysecrets config init")
			}
			p, err := config.LoadProject(path)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("project") && !cmd.Flags().Changed("environment") {
				return errors.New("nothing to update. Use -p/--project or -e/--environment")
			}
			if cmd.Flags().Changed("project") {
				p.Project = project
			}
			if cmd.Flags().Changed("environment") {
				p.Environment = environment
			}
			if err := config.SaveProject(path, p); err != nil {
				return err
			}
			fmt.Fprintf(a.Err, "%s Updated %s\n", green("✓"), cyan(path))
			return nil
		},
	}
	set.Flags().StringVarP(&project, "project", "p", "", "set project name")
	set.Flags().StringVarP(&environment, "environment", "e", "", "set environment")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init PROJECT [ENVIRONMENT]",
			Short: "Create .tinysecrets.toml in the current directory",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(_ *cobra.Command, args []string) error {
				wd, err := a.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current directory: %w", err)
				}
				path := filepath.Join(wd, config.ProjectFileName)
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(a.Err, "%s %s already exists\n", yellow("⚠"), config.ProjectFileName)
					return nil
				}

				p := &config.Project{Project: args[0], Environment: "dev"}
				if len(args) == 2 {
					p.Environment = args[1]
				}
				if err := config.SaveProject(path, p); err != nil {
					return err
				}
				fmt.Fprintf(a.Err, "%s Created %s\n", green("✓"), cyan(config.ProjectFileName))
				fmt.Fprintf(a.Err, "  project: %s\n", cyan(p.Project))
				fmt.Fprintf(a.Err, "  environment: %s\n", yellow(p.Environment))
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show current project configuration",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				path, err := a.projectFile()
				if err != nil {
					return err
				}
				if path == "" {
					fmt.Fprintf(a.Out, "%s No %s found\n", yellow("○"), config.ProjectFileName)
					return nil
				}
				p, err := config.LoadProject(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.Out, "%s\n", faint(path))
				fmt.Fprintf(a.Out, "  project: %s\n", cyan(p.Project))
				fmt.Fprintf(a.Out, "  environment: %s\n", yellow(p.Environment))
				return nil
			},
		},
		set,
	)
	return cmd
}

func (a *App) projectFile() (string, error) {
	wd, err := a.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return config.FindProject(wd)
}
