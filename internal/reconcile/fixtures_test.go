package reconcile

import (
	"context"
	"testing"
	"time"

	"refereecore/internal/infra/persistence/memory"
	"refereecore/pkg/domain"
)

var baseTime = time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{t: t, store: memory.NewStore(domain.NewRulesEngine())}
}

func (f *fixture) tx(fn func(tx domain.Transaction) error) {
	f.t.Helper()
	if _, err := f.store.RunInTransaction(context.Background(), fn); err != nil {
		f.t.Fatalf("fixture transaction: %v", err)
	}
}

func (f *fixture) team(name string) int64 {
	f.t.Helper()
	var id int64
	f.tx(func(tx domain.Transaction) error {
		team, err := tx.CreateTeam(domain.Team{Name: name})
		id = team.ID
		return err
	})
	return id
}

func (f *fixture) report(key domain.ReportKey, note string, submittedAt *time.Time) int64 {
	f.t.Helper()
	var id int64
	f.tx(func(tx domain.Transaction) error {
		r, err := tx.CreateReport(domain.Report{
			TournamentID: key.TournamentID,
			RefereeID:    key.RefereeID,
			CodeID:       key.CodeID,
			Note:         note,
			Submitted:    submittedAt != nil,
			SubmittedAt:  submittedAt,
		})
		id = r.ID
		return err
	})
	return id
}

func (f *fixture) preselect(reportID int64, teamIDs ...int64) {
	f.t.Helper()
	f.tx(func(tx domain.Transaction) error {
		for _, teamID := range teamIDs {
			if _, err := tx.CreatePreselection(domain.TeamPreselection{ReportID: reportID, TeamID: teamID}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *fixture) game(reportID, teamA, teamB int64) int64 {
	f.t.Helper()
	var id int64
	f.tx(func(tx domain.Transaction) error {
		g, err := tx.CreateGame(domain.GameRecord{ReportID: reportID, TeamAID: teamA, TeamBID: teamB})
		id = g.ID
		return err
	})
	return id
}

func (f *fixture) pitch(reportID int64, name string) {
	f.t.Helper()
	f.tx(func(tx domain.Transaction) error {
		_, err := tx.CreatePitch(domain.PitchRecord{ReportID: reportID, Name: name})
		return err
	})
}

func (f *fixture) membership(umbrella, added int64) {
	f.t.Helper()
	f.tx(func(tx domain.Transaction) error {
		_, err := tx.CreateMembership(domain.AmalgamationMembership{UmbrellaTeamID: umbrella, AddedTeamID: added})
		return err
	})
}

func (f *fixture) groups(opts FinderOptions) []ReportGroup {
	f.t.Helper()
	var groups []ReportGroup
	if err := f.store.View(context.Background(), func(view domain.TransactionView) error {
		groups = FindDuplicateReportGroups(view, opts)
		return nil
	}); err != nil {
		f.t.Fatalf("view: %v", err)
	}
	return groups
}

// reconcileAll runs one reconciliation pass, one transaction per group.
func (f *fixture) reconcileAll() []ReportMergeSummary {
	f.t.Helper()
	var out []ReportMergeSummary
	for _, group := range f.groups(FinderOptions{}) {
		var summary ReportMergeSummary
		_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			var err error
			summary, err = MergeReportGroup(tx, group)
			return err
		})
		if err != nil {
			f.t.Fatalf("merge group %+v: %v", group.Key, err)
		}
		out = append(out, summary)
	}
	return out
}

func (f *fixture) mergeTeams(req TeamMergeRequest) (TeamMergeSummary, error) {
	f.t.Helper()
	var summary TeamMergeSummary
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		summary, err = MergeTeams(tx, req)
		return err
	})
	return summary, err
}

func (f *fixture) view() domain.TransactionView {
	f.t.Helper()
	var out domain.TransactionView
	_ = f.store.View(context.Background(), func(view domain.TransactionView) error {
		out = view
		return nil
	})
	return out
}

func at(offset time.Duration) *time.Time {
	t := baseTime.Add(offset)
	return &t
}

func teamSet(view domain.TransactionView, reportID int64) map[int64]int {
	out := make(map[int64]int)
	for _, p := range view.ListPreselections() {
		if p.ReportID == reportID {
			out[p.TeamID]++
		}
	}
	return out
}

func countChildren(view domain.TransactionView) int {
	return len(view.ListGames()) + len(view.ListPitches())
}
