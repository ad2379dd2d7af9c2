// Package cli is the cobra-based command surface of the dogma binary:
// `serve` runs the store, `version` prints build information.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCommand assembles the dogma root command and its subcommands.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "dogma",
		Short: "dogma is a replicated, versioned configuration store",
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML), layered under DOGMA_-prefixed env vars")

	cmd.AddCommand(newServeCommand(&cfgFile))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// Execute runs the root command, returning the exit error if any,
// cancelling on the first SIGINT/SIGTERM.
func Execute() error {
	cobra.EnableCommandSorting = false

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)

		return err
	}

	return nil
}
