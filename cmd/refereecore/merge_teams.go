package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"refereecore/internal/core"
	"refereecore/internal/reconcile"
)

func newMergeTeamsCmd(opts *rootOptions) *cobra.Command {
	var (
		base   int64
		merge  []int64
		dryRun bool
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "merge-teams",
		Short: "Fold duplicate teams into a base team",
		Long: `Merge duplicate teams into a base team in one transaction.

Memberships, game sides, sanctions, injuries and preselections of the merged
teams move to the base team and the merged teams are deleted. Use --dry-run to
print what would change without committing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			req := reconcile.TeamMergeRequest{BaseTeamID: base, TeamsToMergeIDs: merge, DryRun: dryRun}
			summary, err := a.svc.MergeTeams(core.WithActor(cmd.Context(), actor), req)
			if err != nil {
				failure := core.DescribeError(err)
				_ = printJSON(cmd.OutOrStdout(), failure)
				return fmt.Errorf("merge teams: %w", failure)
			}
			status := "merged"
			if dryRun {
				status = "dry_run"
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"status": status, "summary": summary})
		},
	}
	cmd.Flags().Int64Var(&base, "base", 0, "id of the team that survives the merge")
	cmd.Flags().Int64SliceVar(&merge, "merge", nil, "ids of the teams to merge into the base (comma separated)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the merge without committing it")
	cmd.Flags().StringVar(&actor, "actor", "cli", "name recorded in the merge journal")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("merge")
	return cmd
}
