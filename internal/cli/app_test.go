package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atinyakov/tinysecrets/internal/cli"
	"github.com/atinyakov/tinysecrets/internal/config"
	"github.com/atinyakov/tinysecrets/internal/crypto"
	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"github.com/atinyakov/tinysecrets/internal/passphrase"
	"github.com/atinyakov/tinysecrets/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeychain struct {
	pass []byte
}

func (k *fakeKeychain) Get() ([]byte, bool, error) {
	if k.pass == nil {
		return nil, false, nil
	}
	return append([]byte(nil), k.pass...), true, nil
}

func (k *fakeKeychain) Set(pass []byte) error {
	k.pass = append([]byte(nil), pass...)
	return nil
}

func (k *fakeKeychain) Delete() (bool, error) {
	had := k.pass != nil
	k.pass = nil
	return had, nil
}

type harness struct {
	t        *testing.T
	dir      string
	store    string
	pass     string
	keychain *fakeKeychain
	out      bytes.Buffer
	errOut   bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"STORE", "DRIVER", "DATABASE_DSN", "LOG_LEVEL", "CONFIG", "PASSPHRASE"} {
		t.Setenv(config.EnvPrefix+k, "")
		os.Unsetenv(config.EnvPrefix + k)
	}
	dir := t.TempDir()
	return &harness{
		t:        t,
		dir:      dir,
		store:    filepath.Join(dir, "store", "secrets.db"),
		pass:     "correct-horse-battery",
		keychain: &fakeKeychain{},
	}
}

func (h *harness) exec(stdin string, args ...string) error {
	h.out.Reset()
	h.errOut.Reset()

	app := &cli.App{
		Version: "test",
		In:      strings.NewReader(stdin),
		Out:     &h.out,
		Err:     &h.errOut,
		Passphrases: &passphrase.Resolver{
			Getenv: func(k string) string {
				if k == passphrase.EnvVar {
					return h.pass
				}
				return ""
			},
		},
		Keychain: h.keychain,
		StoreOptions: []service.Option{
			service.WithKDF(crypto.KDFParams{Time: 1, Memory: 64, Threads: 1}),
			service.WithLegacyWorkFactor(10),
		},
		Getwd: func() (string, error) { return h.dir, nil },
	}
	root := app.RootCommand()
	root.SetArgs(append([]string{"--store", h.store}, args...))
	return root.ExecuteContext(context.Background())
}

func (h *harness) mustExec(stdin string, args ...string) {
	h.t.Helper()
	require.NoError(h.t, h.exec(stdin, args...), "stderr: %s", h.errOut.String())
}

func TestCommandsRequireInit(t *testing.T) {
	h := newHarness(t)
	err := h.exec("", "get", "API_KEY", "-p", "myapp", "-e", "dev")
	require.ErrorIs(t, err, kerrors.ErrNotInitialized)
	assert.Contains(t, cli.Describe(err), "tinysecrets init")
	assert.NoFileExists(t, h.store)
}

func TestInit(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	assert.Contains(t, h.errOut.String(), "Store created")
	assert.FileExists(t, h.store)

	h.mustExec("", "init")
	assert.Contains(t, h.errOut.String(), "already exists")
}

func TestInit_ShortPassphrase(t *testing.T) {
	h := newHarness(t)
	h.pass = "short"
	require.ErrorIs(t, h.exec("", "init"), passphrase.ErrTooShort)
}

func TestSetGet(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")

	h.mustExec("", "set", "API_KEY", "sk_live_1", "-p", "myapp", "-e", "dev", "-d", "stripe key")
	assert.Contains(t, h.errOut.String(), "Created")
	h.mustExec("sk_live_2\n", "set", "API_KEY", "-p", "myapp", "-e", "dev")
	assert.Contains(t, h.errOut.String(), "Updated")

	h.mustExec("", "get", "API_KEY", "-p", "myapp", "-e", "dev")
	assert.Equal(t, "sk_live_2\n", h.out.String())

	h.mustExec("", "get", "API_KEY", "-p", "myapp", "-e", "dev", "--version", "1")
	assert.Equal(t, "sk_live_1\n", h.out.String())

	h.mustExec("", "list")
	assert.Contains(t, h.out.String(), "API_KEY")
	assert.Contains(t, h.out.String(), "v2")
	assert.Contains(t, h.out.String(), "stripe key")
	assert.NotContains(t, h.out.String(), "sk_live")
}

func TestGet_WrongPassphrase(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	h.pass = "not-the-passphrase"

	err := h.exec("", "get", "API_KEY", "-p", "myapp", "-e", "dev")
	require.ErrorIs(t, err, kerrors.ErrInvalidPassphrase)
	assert.Contains(t, cli.Describe(err), "Invalid passphrase")
}

func TestGet_Missing(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	err := h.exec("", "get", "NOPE", "-p", "myapp", "-e", "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret not found")
	assert.Empty(t, h.out.String())
}

func TestProjectFileResolution(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")

	require.Error(t, h.exec("", "set", "K", "v"))

	h.mustExec("", "config", "init", "myapp")
	h.mustExec("", "set", "K", "v")
	h.mustExec("", "get", "K", "-p", "myapp", "-e", "dev")
	assert.Equal(t, "v\n", h.out.String())

	h.mustExec("", "config", "set", "-e", "prod")
	h.mustExec("", "config", "show")
	assert.Contains(t, h.out.String(), "environment: prod")

	h.mustExec("", "config", "init", "other")
	assert.Contains(t, h.errOut.String(), "already exists")
}

func TestDeleteAndHistory(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	for _, v := range []string{"one", "two", "three"} {
		h.mustExec("", "set", "TOKEN", v, "-p", "myapp", "-e", "dev")
	}

	h.mustExec("", "history", "TOKEN", "-p", "myapp", "-e", "dev", "--show")
	out := h.out.String()
	assert.Contains(t, out, "v3")
	assert.Contains(t, out, "current")
	assert.Contains(t, out, "three")
	assert.Contains(t, out, "one")

	h.mustExec("", "delete", "TOKEN", "-p", "myapp", "-e", "dev")
	require.Error(t, h.exec("", "delete", "TOKEN", "-p", "myapp", "-e", "dev"))

	h.mustExec("", "history", "TOKEN", "-p", "myapp", "-e", "dev")
	assert.Contains(t, h.out.String(), "deleted")
	assert.NotContains(t, h.out.String(), "current")
}

func TestProjectsAndEnvs(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	h.mustExec("", "set", "K", "v", "-p", "beta", "-e", "prod")
	h.mustExec("", "set", "K", "v", "-p", "alpha", "-e", "staging")
	h.mustExec("", "set", "K", "v", "-p", "alpha", "-e", "dev")

	h.mustExec("", "projects")
	assert.Equal(t, "alpha\nbeta\n", h.out.String())

	h.mustExec("", "envs", "-p", "alpha")
	assert.Equal(t, "dev\nstaging\n", h.out.String())
}

func TestRun(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	h.mustExec("", "set", "API_KEY", "abc123", "-p", "myapp", "-e", "dev")

	h.mustExec("", "run", "-p", "myapp", "-e", "dev", "--", "sh", "-c", `printf %s "$API_KEY"`)
	assert.Equal(t, "abc123", h.out.String())

	err := h.exec("", "run", "-p", "myapp", "-e", "dev", "--", "sh", "-c", "exit 3")
	var exit *cli.ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.Code)
	assert.Empty(t, cli.Describe(err))
}

func TestImportEnv(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")

	input := "# comment\nAPI_KEY=abc\nexport DB_URL=postgres://db\nEMPTY=\n"
	h.mustExec(input, "import-env", "-p", "myapp", "-e", "staging")
	assert.Contains(t, h.errOut.String(), "Imported 2 secrets")
	assert.Contains(t, h.errOut.String(), "EMPTY (empty value)")

	h.mustExec("", "get", "DB_URL", "-p", "myapp", "-e", "staging")
	assert.Equal(t, "postgres://db\n", h.out.String())
}

func TestExportImport(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	h.mustExec("", "set", "A", "1", "-p", "myapp", "-e", "dev")
	h.mustExec("", "set", "B", "2", "-p", "myapp", "-e", "dev")

	bundle := filepath.Join(h.dir, "bundle.json")
	h.mustExec("", "export", "-p", "myapp", "-e", "dev", "-o", bundle)
	assert.Contains(t, h.errOut.String(), "Exported 2 secrets")

	h.mustExec("", "set", "A", "changed", "-p", "myapp", "-e", "dev")
	h.mustExec("", "import", bundle)
	assert.Contains(t, h.errOut.String(), "Imported 2 secrets")

	h.mustExec("", "get", "A", "-p", "myapp", "-e", "dev")
	assert.Equal(t, "1\n", h.out.String())

	require.Error(t, h.exec("", "export", "-p", "empty", "-e", "dev"))
}

func TestMigrate(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	h.mustExec("", "set", "A", "1", "-p", "myapp", "-e", "dev")

	h.mustExec("", "migrate")
	assert.Contains(t, h.errOut.String(), "Migrated 0 secrets, 1 already current")
}

func TestKeychain(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")

	h.mustExec("", "keychain", "status")
	assert.Contains(t, h.out.String(), "No passphrase stored")

	h.mustExec("", "keychain", "save")
	assert.Equal(t, h.pass, string(h.keychain.pass))

	h.mustExec("", "keychain", "status")
	assert.Contains(t, h.out.String(), "stored in keychain")

	h.mustExec("", "keychain", "clear")
	assert.Contains(t, h.errOut.String(), "removed")
	assert.Nil(t, h.keychain.pass)
}

func TestKeychainSave_WrongPassphrase(t *testing.T) {
	h := newHarness(t)
	h.mustExec("", "init")
	h.pass = "not-the-passphrase"

	require.ErrorIs(t, h.exec("", "keychain", "save"), kerrors.ErrInvalidPassphrase)
	assert.Nil(t, h.keychain.pass)
}

func TestExport_WriteFailureIsReported(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	h := newHarness(t)
	h.mustExec("", "init")
	h.mustExec("", "set", "A", "1", "-p", "myapp", "-e", "dev")

	err := h.exec("", "export", "-p", "myapp", "-e", "dev", "-o", "/dev/full")
	require.Error(t, err)
	assert.NotContains(t, h.errOut.String(), "Exported")

	err = h.exec("", "export", "-p", "myapp", "-e", "dev", "-o", filepath.Join(h.dir, "missing", "bundle.json"))
	require.Error(t, err)
	assert.NotContains(t, h.errOut.String(), "Exported")
}
