// Package cli implements the tinysecrets command tree on top of the store.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atinyakov/tinysecrets/internal/config"
	"github.com/atinyakov/tinysecrets/internal/db"
	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"github.com/atinyakov/tinysecrets/internal/logger"
	"github.com/atinyakov/tinysecrets/internal/passphrase"
	"github.com/atinyakov/tinysecrets/internal/repository"
	"github.com/atinyakov/tinysecrets/internal/service"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// ExitError carries a child process exit code out of the run command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// App holds the dependencies shared by all commands.
type App struct {
	// Version is printed by --version.
	Version string

	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Passphrases resolves passphrases; Keychain backs the keychain commands.
	Passphrases *passphrase.Resolver
	Keychain    passphrase.Store

	// StoreOptions are appended to every service.Init/Open call.
	StoreOptions []service.Option

	// Getwd locates the project configuration file.
	Getwd func() (string, error)

	opts   *config.Options
	logger *logger.ZapLogger
	flags  struct {
		config, store, driver, dsn, logLevel string
	}
}

// NewApp wires the production dependencies.
func NewApp(version string) *App {
	return &App{
		Version:     version,
		In:          os.Stdin,
		Out:         os.Stdout,
		Err:         os.Stderr,
		Passphrases: passphrase.NewResolver(),
		Keychain:    passphrase.DefaultKeychain(),
		Getwd:       os.Getwd,
		logger:      logger.New(),
	}
}

// Log returns the process logger. It is a no-op logger before the command
// tree has parsed its flags.
func (a *App) Log() *zap.Logger {
	if a.logger == nil {
		a.logger = logger.New()
	}
	return a.logger.Log
}

// RootCommand builds the full command tree.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tinysecrets",
		Short: "Encrypted local secrets manager",
		Long: `TinySecrets is an encrypted SQLite-backed .env replacement that never
writes secrets to disk in plaintext.

Quick start:
  tinysecrets init                              # Create encrypted store
  tinysecrets config init myapp dev             # Create .tinysecrets.toml
  tinysecrets set API_KEY sk_live_123           # Set a secret
  tinysecrets get API_KEY                       # Get a secret
  tinysecrets run -- npm start                  # Run command with secrets

Bulk import:
  heroku config | tinysecrets import-env -p myapp -e staging
  cat .env | tinysecrets import-env -p myapp -e dev`,
		Version:           a.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "", "path to JSON config file")
	pf.StringVar(&a.flags.store, "store", "", "path to the store file")
	pf.StringVar(&a.flags.driver, "driver", "", "storage driver: sqlite or postgres")
	pf.StringVar(&a.flags.dsn, "dsn", "", "PostgreSQL connection string")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		a.initCommand(),
		a.setCommand(),
		a.getCommand(),
		a.deleteCommand(),
		a.listCommand(),
		a.historyCommand(),
		a.projectsCommand(),
		a.envsCommand(),
		a.runCommand(),
		a.exportCommand(),
		a.importCommand(),
		a.importEnvCommand(),
		a.migrateCommand(),
		a.keychainCommand(),
		a.configCommand(),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	opts, err := config.Load(a.flags.config)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("store") {
		opts.StorePath = a.flags.store
	}
	if flags.Changed("driver") {
		opts.Driver = a.flags.driver
	}
	if flags.Changed("dsn") {
		opts.DatabaseDSN = a.flags.dsn
	}
	if flags.Changed("log-level") {
		opts.LogLevel = a.flags.logLevel
	}
	a.opts = opts

	if a.logger == nil {
		a.logger = logger.New()
	}
	return a.logger.Init(opts.LogLevel)
}

func (a *App) storeOptions() []service.Option {
	return append([]service.Option{service.WithLogger(a.Log())}, a.StoreOptions...)
}

// connect opens the configured storage engine. mustExist refuses to create
// a new sqlite file.
func (a *App) connect(mustExist bool) (*sql.DB, error) {
	target := a.opts.StorePath
	if a.opts.Driver == db.DriverPostgres {
		target = a.opts.DatabaseDSN
	} else if mustExist && !db.Exists(target) {
		return nil, kerrors.ErrNotInitialized
	}

	conn, err := db.Open(a.opts.Driver, target)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return conn, nil
}

// openStore unlocks the existing store. The returned func releases it.
func (a *App) openStore(ctx context.Context) (*service.Store, func(), error) {
	conn, err := a.connect(true)
	if err != nil {
		return nil, nil, err
	}

	pass, src, err := a.Passphrases.Existing()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	defer clear(pass)
	a.announce(src)

	store, err := service.Open(ctx, repository.NewSQLRepository(conn), pass, a.storeOptions()...)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if src == passphrase.SourcePrompt {
		a.offerKeychain(pass, "Save to keychain for next time?")
	}

	return store, func() {
		store.Close()
		conn.Close()
	}, nil
}

func (a *App) announce(src passphrase.Source) {
	if err := a.Passphrases.KeychainErr; err != nil {
		fmt.Fprintf(a.Err, "%s Keychain error: %v\n", yellow("⚠"), err)
	}
	switch src {
	case passphrase.SourceEnv:
		fmt.Fprintf(a.Err, "🔐 Using passphrase from %s\n", cyan(passphrase.EnvVar))
	case passphrase.SourceKeychain:
		fmt.Fprintln(a.Err, "🔑 Using passphrase from keychain")
	}
}

func (a *App) offerKeychain(pass []byte, question string) {
	saved, err := a.Passphrases.OfferSave(pass, question)
	switch {
	case err != nil:
		fmt.Fprintf(a.Err, "%s Could not save to keychain: %v\n", yellow("⚠"), err)
	case saved:
		fmt.Fprintf(a.Err, "%s Passphrase saved to keychain\n", green("✓"))
	}
}

// resolve picks project and environment from flags or .tinysecrets.toml.
func (a *App) resolve(project, environment string) (string, string, error) {
	r, err := a.resolver()
	if err != nil {
		return "", "", err
	}
	p, err := r.Project(project)
	if err != nil {
		return "", "", err
	}
	e, err := r.Environment(environment)
	if err != nil {
		return "", "", err
	}
	return p, e, nil
}

func (a *App) resolver() (*config.Resolver, error) {
	wd, err := a.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return config.NewResolver(wd)
}

func scopeFlags(cmd *cobra.Command, project, environment *string) {
	cmd.Flags().StringVarP(project, "project", "p", "", "project name (uses .tinysecrets.toml if not specified)")
	cmd.Flags().StringVarP(environment, "environment", "e", "", "environment (uses .tinysecrets.toml if not specified)")
}

func label(project, environment, key string) string {
	return fmt.Sprintf("%s/%s/%s", cyan(project), yellow(environment), bold(key))
}

// Describe renders err for the terminal.
func Describe(err error) string {
	var exit *ExitError
	switch {
	case errors.As(err, &exit):
		return ""
	case errors.Is(err, kerrors.ErrInvalidPassphrase):
		return fmt.Sprintf("%s Invalid passphrase", red("✗"))
	case errors.Is(err, kerrors.ErrNotInitialized):
		return fmt.Sprintf("%s No store found. Run %s first", red("✗"), cyan("tinysecrets init"))
	case errors.Is(err, kerrors.ErrFormat):
		return fmt.Sprintf("%s %v (the store may need a restore or repair)", red("✗"), err)
	}
	return fmt.Sprintf("%s %v", red("✗"), err)
}

// location names the store for messages without echoing a DSN.
func (a *App) location() string {
	if a.opts.Driver == db.DriverPostgres {
		return "postgres"
	}
	return a.opts.StorePath
}
