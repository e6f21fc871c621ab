// Package main is the tinysecrets command line entry point.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/atinyakov/tinysecrets/internal/cli"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := cli.NewApp(fmt.Sprintf("%s (built %s)", cmp.Or(version, "dev"), cmp.Or(buildDate, "N/A")))
	defer func() { _ = app.Log().Sync() }()

	err := app.RootCommand().ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	if msg := cli.Describe(err); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	var exit *cli.ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}
