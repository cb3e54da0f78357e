// Package app is the canvassync command line: argument parsing, component
// wiring from configuration, and the command handlers.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/surrealdb/canvassync/internal/config"
)

// Main parses args, loads the configuration and runs the command. It is
// called by cmd/canvassync and by tests, which pass their own writer.
func Main(ctx context.Context, args []string, w io.Writer) error {
	cmd, opts, err := Parse(args)
	if err != nil {
		return err
	}
	if p, ok := cmd.(*PrintCommand); ok {
		_, err := fmt.Fprintln(w, p.Text)
		return err
	}

	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a, err := New(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer a.Close()

	if err := a.Execute(ctx, cmd, w); err != nil {
		return fmt.Errorf("%s failed: %w", cmd.Name(), err)
	}
	return nil
}
