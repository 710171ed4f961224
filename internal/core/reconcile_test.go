package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"refereecore/internal/reconcile"
	"refereecore/pkg/domain"
)

func TestReconcileReportsMergesAndJournals(t *testing.T) {
	journal := &captureJournal{}
	svc := newTestService(t, WithJournal(journal))
	key := domain.ReportKey{TournamentID: 7, RefereeID: 3, CodeID: 1}
	target := mustSubmittedReport(t, svc, key, "first")
	source := mustSubmittedReport(t, svc, key, "second")
	mustSubmittedReport(t, svc, domain.ReportKey{TournamentID: 7, RefereeID: 4, CodeID: 1}, "alone")

	summary, err := svc.ReconcileReports(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if summary.GroupsFound != 1 || summary.GroupsMerged != 1 || summary.ReportsRemoved != 1 || summary.Cancelled {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, ok := svc.GetReport(source.ID); ok {
		t.Fatalf("expected source report removed")
	}
	kept, _ := svc.GetReport(target.ID)
	if kept.Note != "first\nsecond" {
		t.Fatalf("unexpected merged note %q", kept.Note)
	}

	records, err := svc.ListMerges(context.Background())
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one journal record, got %d (%v)", len(records), err)
	}
	rec := records[0]
	if rec.Kind != MergeKindReport || rec.TargetID != target.ID || rec.MergedBy != "reconciler" || len(rec.SourceIDs) != 1 || rec.SourceIDs[0] != source.ID {
		t.Fatalf("unexpected journal record: %+v", rec)
	}
	if !rec.OccurredAt.Equal(fixedNow) {
		t.Fatalf("expected journal stamped with service clock, got %v", rec.OccurredAt)
	}

	again, err := svc.ReconcileReports(context.Background())
	if err != nil || again.GroupsFound != 0 {
		t.Fatalf("expected second pass to find nothing, got %+v %v", again, err)
	}
}

func TestReconcileReportsContinuesPastFailingGroup(t *testing.T) {
	engine := NewDefaultRulesEngine()
	log := &captureLogger{}
	audit := &captureAuditRecorder{}
	svc := NewInMemoryService(engine, WithLogger(log), WithAuditRecorder(audit))

	frozen := mustSubmittedReport(t, svc, domain.ReportKey{TournamentID: 1, RefereeID: 1, CodeID: 1}, "")
	mustSubmittedReport(t, svc, domain.ReportKey{TournamentID: 1, RefereeID: 1, CodeID: 1}, "")
	open := mustSubmittedReport(t, svc, domain.ReportKey{TournamentID: 1, RefereeID: 2, CodeID: 1}, "")
	mustSubmittedReport(t, svc, domain.ReportKey{TournamentID: 1, RefereeID: 2, CodeID: 1}, "")
	engine.Register(blockReportUpdates{id: frozen.ID})

	summary, err := svc.ReconcileReports(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if summary.GroupsFound != 2 || summary.GroupsFailed != 1 || summary.GroupsMerged != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Merges[0].TargetID != open.ID {
		t.Fatalf("expected the unfrozen group merged, got %+v", summary.Merges)
	}
	if len(svc.ListReports()) != 3 {
		t.Fatalf("expected failed group left untouched, got %d reports", len(svc.ListReports()))
	}
	if !log.has("e:merge report group") {
		t.Fatalf("expected failure logged, got %v", log.calls)
	}
	if !audit.has("merge_report_group", AuditStatusError) || !audit.has("merge_report_group", AuditStatusSuccess) {
		t.Fatalf("expected both outcomes audited, got %+v", audit.entries)
	}
}

func TestReconcileReportsStopsWhenCancelled(t *testing.T) {
	svc := newTestService(t)
	key := domain.ReportKey{TournamentID: 1, RefereeID: 1, CodeID: 1}
	mustSubmittedReport(t, svc, key, "")
	mustSubmittedReport(t, svc, key, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := svc.ReconcileReports(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !summary.Cancelled || summary.GroupsFound != 1 || summary.GroupsMerged != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(svc.ListReports()) != 2 {
		t.Fatalf("expected no merge after cancellation")
	}
}

func TestReconcileReportsHonoursLookback(t *testing.T) {
	svc := newTestService(t, WithReconcileLookback(24*time.Hour))
	old := fixedNow.Add(-10 * 24 * time.Hour)
	recent := fixedNow.Add(-time.Hour)
	create := func(key domain.ReportKey, at time.Time) {
		t.Helper()
		if _, _, err := svc.CreateReport(context.Background(), domain.Report{
			TournamentID: key.TournamentID, RefereeID: key.RefereeID, CodeID: key.CodeID,
			Submitted: true, SubmittedAt: &at,
		}); err != nil {
			t.Fatalf("create report: %v", err)
		}
	}
	stale := domain.ReportKey{TournamentID: 1, RefereeID: 1, CodeID: 1}
	fresh := domain.ReportKey{TournamentID: 1, RefereeID: 2, CodeID: 1}
	create(stale, old)
	create(stale, old)
	create(fresh, old)
	create(fresh, recent)

	summary, err := svc.ReconcileReports(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if summary.GroupsFound != 1 || summary.Merges[0].Key != fresh {
		t.Fatalf("expected only the recently touched key, got %+v", summary)
	}
}

func seedTeamMerge(t *testing.T, svc *Service) (base, dup domain.Team, report domain.Report) {
	t.Helper()
	ctx := context.Background()
	base = mustTeam(t, svc, "Harbour FC")
	dup = mustTeam(t, svc, "Harbour F.C.")
	other := mustTeam(t, svc, "Rivals")
	report = mustSubmittedReport(t, svc, domain.ReportKey{TournamentID: 1, RefereeID: 1, CodeID: 1}, "")
	if _, _, err := svc.AddPreselection(ctx, report.ID, base.ID); err != nil {
		t.Fatalf("preselect base: %v", err)
	}
	if _, _, err := svc.AddPreselection(ctx, report.ID, dup.ID); err != nil {
		t.Fatalf("preselect dup: %v", err)
	}
	game, _, err := svc.CreateGame(ctx, domain.GameRecord{ReportID: report.ID, TeamAID: dup.ID, TeamBID: other.ID})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	if _, _, err := svc.RecordDisciplinaryAction(ctx, domain.DisciplinaryAction{GameID: game.ID, TeamID: dup.ID, Card: "red"}); err != nil {
		t.Fatalf("record action: %v", err)
	}
	return base, dup, report
}

func TestMergeTeamsCommitsAndJournals(t *testing.T) {
	journal := &captureJournal{}
	svc := newTestService(t, WithJournal(journal))
	base, dup, _ := seedTeamMerge(t, svc)

	ctx := WithActor(context.Background(), "alice")
	summary, err := svc.MergeTeams(ctx, reconcile.TeamMergeRequest{BaseTeamID: base.ID, TeamsToMergeIDs: []int64{dup.ID}})
	if err != nil {
		t.Fatalf("merge teams: %v", err)
	}
	if summary.GameSidesMoved != 1 || summary.DisciplinaryActionsMoved != 1 || summary.PreselectionsDropped != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, ok := svc.GetTeam(dup.ID); ok {
		t.Fatalf("expected duplicate team removed")
	}
	if len(journal.records) != 1 || journal.records[0].MergedBy != "alice" || journal.records[0].Kind != MergeKindTeam {
		t.Fatalf("unexpected journal: %+v", journal.records)
	}
}

func TestMergeTeamsDryRunLeavesStateUntouched(t *testing.T) {
	journal := &captureJournal{}
	svc := newTestService(t, WithJournal(journal))
	base, dup, _ := seedTeamMerge(t, svc)

	summary, err := svc.MergeTeams(context.Background(), reconcile.TeamMergeRequest{BaseTeamID: base.ID, TeamsToMergeIDs: []int64{dup.ID}, DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if summary.GameSidesMoved != 1 || len(summary.MergedTeamIDs) != 1 {
		t.Fatalf("expected dry run to report the would-be merge, got %+v", summary)
	}
	if _, ok := svc.GetTeam(dup.ID); !ok {
		t.Fatalf("dry run must not delete the duplicate")
	}
	if len(journal.records) != 0 {
		t.Fatalf("dry run must not be journaled")
	}
}

func TestMergeTeamsFailureKinds(t *testing.T) {
	audit := &captureAuditRecorder{}
	svc := newTestService(t, WithAuditRecorder(audit))
	base, dup, _ := seedTeamMerge(t, svc)
	cases := []struct {
		name string
		req  reconcile.TeamMergeRequest
		kind domain.ErrorKind
	}{
		{"empty list", reconcile.TeamMergeRequest{BaseTeamID: base.ID}, domain.ErrorKindValidation},
		{"base among sources", reconcile.TeamMergeRequest{BaseTeamID: base.ID, TeamsToMergeIDs: []int64{base.ID}}, domain.ErrorKindValidation},
		{"missing base", reconcile.TeamMergeRequest{BaseTeamID: 404, TeamsToMergeIDs: []int64{dup.ID}}, domain.ErrorKindNotFound},
		{"missing source", reconcile.TeamMergeRequest{BaseTeamID: base.ID, TeamsToMergeIDs: []int64{dup.ID, 404}}, domain.ErrorKindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.MergeTeams(context.Background(), tc.req)
			if got := DescribeError(err).Kind; got != tc.kind {
				t.Fatalf("expected %s, got %s (%v)", tc.kind, got, err)
			}
		})
	}
	if _, ok := svc.GetTeam(dup.ID); !ok {
		t.Fatalf("failed merges must leave the duplicate in place")
	}
	if !audit.has("merge_teams", AuditStatusError) {
		t.Fatalf("expected failed merges audited")
	}
}

func TestJournalFailureDoesNotFailMerge(t *testing.T) {
	log := &captureLogger{}
	svc := newTestService(t, WithJournal(&captureJournal{err: errors.New("disk full")}), WithLogger(log))
	base, dup, _ := seedTeamMerge(t, svc)
	if _, err := svc.MergeTeams(context.Background(), reconcile.TeamMergeRequest{BaseTeamID: base.ID, TeamsToMergeIDs: []int64{dup.ID}}); err != nil {
		t.Fatalf("merge should succeed despite journal failure: %v", err)
	}
	if !log.has("w:journal merge") {
		t.Fatalf("expected journal failure logged, got %v", log.calls)
	}
}

func TestListMergesWithoutJournal(t *testing.T) {
	svc := newTestService(t)
	records, err := svc.ListMerges(context.Background())
	if err != nil || records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", records, err)
	}
	if got := ActorFromContext(context.Background(), "admin"); got != "admin" {
		t.Fatalf("expected fallback actor, got %q", got)
	}
}
