// Command wellpassctl runs maintenance tasks against a wellpass deployment:
// migrations, recycle bin purges, archived clients, the offline write queue
// and session tokens. It reads the same environment as the server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/wellpass/internal"
	"github.com/DukeRupert/wellpass/internal/app"
)

// env loads configuration and builds the application once per command.
type env struct {
	stderr io.Writer
	cfg    *internal.Config
	logger *slog.Logger
	app    *app.App
}

func (e *env) config() (*internal.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}
	e.cfg = cfg
	e.logger = internal.NewLogger(e.stderr, cfg.Env, cfg.LogLevel)
	return cfg, nil
}

func (e *env) open(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, e.logger)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

func (e *env) close() {
	if e.app != nil {
		e.app.Close()
		e.app = nil
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	e := &env{stderr: stderr}

	root := &cobra.Command{
		Use:           "wellpassctl",
		Short:         "Maintenance tasks for the wellness pass service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		newMigrateCmd(e),
		newPurgeCmd(e),
		newArchiveCmd(e),
		newQueueCmd(e),
		newTokenCmd(e),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
