package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refereecore/internal/reconcile"
	"refereecore/pkg/domain"
)

// schedulerActor is recorded on merges made by background reconciliation.
const schedulerActor = "reconciler"

// ReconcileSummary reports the outcome of one reconciliation pass.
type ReconcileSummary struct {
	StartedAt      time.Time                      `json:"started_at"`
	FinishedAt     time.Time                      `json:"finished_at"`
	GroupsFound    int                            `json:"groups_found"`
	GroupsMerged   int                            `json:"groups_merged"`
	GroupsFailed   int                            `json:"groups_failed"`
	ReportsRemoved int                            `json:"reports_removed"`
	Cancelled      bool                           `json:"cancelled,omitempty"`
	Merges         []reconcile.ReportMergeSummary `json:"merges"`
}

// ReconcileReports runs one reconciliation pass: a read-only duplicate scan
// followed by one serialized transaction per group. A failing group is logged
// and counted and the pass moves on. Cancelling ctx stops the pass between
// groups; a group transaction that already started always runs to completion.
func (s *Service) ReconcileReports(ctx context.Context) (ReconcileSummary, error) {
	summary := ReconcileSummary{StartedAt: s.clock.Now().UTC(), Merges: []reconcile.ReportMergeSummary{}}
	opts := reconcile.FinderOptions{}
	if s.lookback > 0 {
		since := s.clock.Now().Add(-s.lookback)
		opts.SubmittedSince = &since
	}

	var groups []reconcile.ReportGroup
	if err := s.store.View(ctx, func(view TransactionView) error {
		groups = reconcile.FindDuplicateReportGroups(view, opts)
		return nil
	}); err != nil {
		return summary, domain.StorageError{Op: "scan reports", Err: err}
	}
	summary.GroupsFound = len(groups)

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			summary.Cancelled = true
			summary.FinishedAt = s.clock.Now().UTC()
			s.logger.Info("reconciliation pass cancelled", "remaining_groups", len(groups)-summary.GroupsMerged-summary.GroupsFailed)
			return summary, err
		}
		merged, err := s.mergeReportGroup(ctx, group)
		if err != nil {
			summary.GroupsFailed++
			s.logger.Error("merge report group",
				"tournament_id", group.Key.TournamentID,
				"referee_id", group.Key.RefereeID,
				"code_id", group.Key.CodeID,
				"target_id", group.TargetID,
				"source_ids", group.SourceIDs,
				"error", err,
			)
			continue
		}
		summary.GroupsMerged++
		summary.ReportsRemoved += len(merged.MergedSourceIDs)
		summary.Merges = append(summary.Merges, merged)
	}
	summary.FinishedAt = s.clock.Now().UTC()
	s.logger.Info("reconciliation pass finished",
		"groups_found", summary.GroupsFound,
		"groups_merged", summary.GroupsMerged,
		"groups_failed", summary.GroupsFailed,
		"reports_removed", summary.ReportsRemoved,
	)
	return summary, nil
}

func (s *Service) mergeReportGroup(ctx context.Context, group reconcile.ReportGroup) (reconcile.ReportMergeSummary, error) {
	var merged reconcile.ReportMergeSummary
	err := s.run(ctx, "merge_report_group", func(ctx context.Context) (int64, error) {
		_, err := s.store.RunInTransaction(context.WithoutCancel(ctx), func(tx Transaction) error {
			var err error
			merged, err = reconcile.MergeReportGroup(tx, group)
			return err
		})
		return group.TargetID, err
	})
	if err != nil {
		return merged, err
	}
	if merged.Changed() {
		s.journalMerge(ctx, MergeKindReport, merged.TargetID, merged.MergedSourceIDs, schedulerActor, merged)
	}
	return merged, nil
}

var errDryRun = errors.New("dry run rollback")

// MergeTeams folds duplicate teams into the base team in one serialized
// transaction. With DryRun set the merge runs in full and is then rolled back,
// so the summary shows what a real merge would change.
func (s *Service) MergeTeams(ctx context.Context, req reconcile.TeamMergeRequest) (reconcile.TeamMergeSummary, error) {
	var summary reconcile.TeamMergeSummary
	err := s.run(ctx, "merge_teams", func(ctx context.Context) (int64, error) {
		if err := req.Validate(); err != nil {
			return req.BaseTeamID, err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			summary, err = reconcile.MergeTeams(tx, req)
			if err != nil {
				return err
			}
			if req.DryRun {
				return errDryRun
			}
			return nil
		})
		if errors.Is(err, errDryRun) {
			return req.BaseTeamID, nil
		}
		if err != nil {
			return req.BaseTeamID, fmt.Errorf("merge teams into %d: %w", req.BaseTeamID, err)
		}
		return req.BaseTeamID, nil
	})
	if err != nil {
		return summary, err
	}
	if !req.DryRun {
		s.journalMerge(ctx, MergeKindTeam, req.BaseTeamID, summary.MergedTeamIDs, ActorFromContext(ctx, "admin"), summary)
	}
	return summary, nil
}
