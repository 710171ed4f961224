package main

import (
	"github.com/spf13/cobra"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one report reconciliation pass and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			summary, err := a.svc.ReconcileReports(cmd.Context())
			if printErr := printJSON(cmd.OutOrStdout(), summary); printErr != nil {
				return printErr
			}
			return err
		},
	}
}
