// Command refereecore runs the duplicate reconciliation service: a periodic
// report reconciler with an admin HTTP API, plus one-shot CLI operations.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		exitFunc(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "refereecore",
		Short:         "Reconcile duplicate referee reports and merge duplicate teams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before REFEREECORE_* overrides")

	root.AddCommand(newServeCmd(opts), newReconcileCmd(opts), newMergeTeamsCmd(opts))
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%s: %w", cmd.CommandPath(), err)
	})
	return root
}
