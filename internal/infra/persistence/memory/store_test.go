package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"refereecore/pkg/domain"
)

type blockAllRule struct{}

func (blockAllRule) Name() string { return "block_all" }

func (blockAllRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{Rule: "block_all", Severity: domain.SeverityBlock, Message: "no writes"}}}, nil
}

func seedReportWithTeams(t *testing.T, store *Store) (Report, Team, Team) {
	t.Helper()
	var report Report
	var a, b Team
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		if a, err = tx.CreateTeam(Team{Name: "Harbour"}); err != nil {
			return err
		}
		if b, err = tx.CreateTeam(Team{Name: "Valley"}); err != nil {
			return err
		}
		report, err = tx.CreateReport(Report{TournamentID: 1, RefereeID: 2, CodeID: 3})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return report, a, b
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindTeam(99); ok {
			t.Fatalf("expected missing team lookup")
		}
		created, err := tx.CreateReport(Report{TournamentID: 1, RefereeID: 1, CodeID: 1})
		if err != nil {
			return err
		}
		if created.ID != 1 {
			t.Fatalf("expected first sequence id, got %d", created.ID)
		}
		if len(tx.Snapshot().ListReports()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListReports()) != 1 {
		t.Fatalf("expected persisted report")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListReports()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if _, ok := store.GetReport(1); !ok {
		t.Fatalf("expected report restored from snapshot")
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	sentinel := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateTeam(Team{Name: "Ghost"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if len(store.ListTeams()) != 0 {
		t.Fatalf("expected no teams after rollback")
	}
	// The discarded transaction must not consume a sequence value.
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		team, err := tx.CreateTeam(Team{Name: "Real"})
		if err == nil && team.ID != 1 {
			t.Fatalf("expected id 1 after rollback, got %d", team.ID)
		}
		return err
	})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
}

func TestRunInTransactionRecoversPanic(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateTeam(Team{Name: "Ghost"}); err != nil {
			return err
		}
		panic("exploded")
	})
	var storageErr domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if domain.KindOf(err) != domain.ErrorKindStorage {
		t.Fatalf("expected storage kind")
	}
	if len(store.ListTeams()) != 0 {
		t.Fatalf("expected panic to discard writes")
	}
	// The lock must have been released.
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("follow-up transaction: %v", err)
	}
}

func TestBlockingRuleRefusesCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockAllRule{})
	store := NewStore(engine)
	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateTeam(Team{Name: "Blocked"})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() || len(store.ListTeams()) != 0 {
		t.Fatalf("expected blocked commit, got %+v", res)
	}
	if store.RulesEngine() != engine {
		t.Fatalf("expected configured engine")
	}
}

func TestCommitHookFailureDiscardsState(t *testing.T) {
	store := NewStore(nil)
	var seen Snapshot
	store.SetCommitHook(func(_ context.Context, next Snapshot) error {
		seen = next
		return errors.New("disk full")
	})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateTeam(Team{Name: "Lost"})
		return err
	})
	if domain.KindOf(err) != domain.ErrorKindStorage || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected storage failure from hook, got %v", err)
	}
	if len(seen.Teams) != 1 {
		t.Fatalf("expected hook to observe pending team, got %+v", seen.Teams)
	}
	if len(store.ListTeams()) != 0 {
		t.Fatalf("expected live state untouched")
	}
}

func TestCreatesValidateParents(t *testing.T) {
	store := NewStore(nil)
	report, a, _ := seedReportWithTeams(t, store)
	cases := map[string]func(tx domain.Transaction) error{
		"game missing report": func(tx domain.Transaction) error {
			_, err := tx.CreateGame(GameRecord{ReportID: 404, TeamAID: a.ID, TeamBID: a.ID})
			return err
		},
		"game missing team": func(tx domain.Transaction) error {
			_, err := tx.CreateGame(GameRecord{ReportID: report.ID, TeamAID: a.ID, TeamBID: 404})
			return err
		},
		"pitch missing report": func(tx domain.Transaction) error {
			_, err := tx.CreatePitch(PitchRecord{ReportID: 404, Name: "North"})
			return err
		},
		"preselection missing team": func(tx domain.Transaction) error {
			_, err := tx.CreatePreselection(TeamPreselection{ReportID: report.ID, TeamID: 404})
			return err
		},
		"membership missing umbrella": func(tx domain.Transaction) error {
			_, err := tx.CreateMembership(AmalgamationMembership{UmbrellaTeamID: 404, AddedTeamID: a.ID})
			return err
		},
		"action missing game": func(tx domain.Transaction) error {
			_, err := tx.CreateDisciplinaryAction(DisciplinaryAction{GameID: 404, TeamID: a.ID})
			return err
		},
		"injury missing game": func(tx domain.Transaction) error {
			_, err := tx.CreateInjury(Injury{GameID: 404, TeamID: a.ID})
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.RunInTransaction(context.Background(), fn)
			if domain.KindOf(err) != domain.ErrorKindNotFound {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestDeleteGuards(t *testing.T) {
	store := NewStore(nil)
	report, a, b := seedReportWithTeams(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateGame(GameRecord{ReportID: report.ID, TeamAID: a.ID, TeamBID: b.ID}); err != nil {
			return err
		}
		_, err := tx.CreatePitch(PitchRecord{ReportID: report.ID, Name: "Main"})
		return err
	})
	if err != nil {
		t.Fatalf("seed children: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteReport(report.ID)
	})
	if err == nil || !strings.Contains(err.Error(), "still owns game") {
		t.Fatalf("expected report delete guard, got %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteTeam(a.ID)
	})
	if err == nil || !strings.Contains(err.Error(), "still referenced by game") {
		t.Fatalf("expected team delete guard, got %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteTeam(404)
	})
	if domain.KindOf(err) != domain.ErrorKindNotFound {
		t.Fatalf("expected not found delete, got %v", err)
	}
}

func TestUpdatesPreserveIdentityAndStampTime(t *testing.T) {
	store := NewStore(nil)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return created })
	report, _, _ := seedReportWithTeams(t, store)

	later := created.Add(time.Hour)
	store.SetNowFunc(func() time.Time { return later })
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateReport(report.ID, func(r *Report) error {
			r.ID = 999
			r.Note = "late kick-off"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok := store.GetReport(report.ID)
	if !ok {
		t.Fatalf("report vanished")
	}
	if got.Note != "late kick-off" || !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected report after update: %+v", got)
	}
	if _, ok := store.GetReport(999); ok {
		t.Fatalf("mutator must not change id")
	}
}

func TestPresetIDsAdvanceSequence(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateTeam(Team{Base: domain.Base{ID: 10}, Name: "Preset"}); err != nil {
			return err
		}
		next, err := tx.CreateTeam(Team{Name: "Next"})
		if err != nil {
			return err
		}
		if next.ID != 11 {
			t.Fatalf("expected sequence to follow preset id, got %d", next.ID)
		}
		_, err = tx.CreateTeam(Team{Base: domain.Base{ID: 10}, Name: "Clash"})
		if domain.KindOf(err) != domain.ErrorKindValidation {
			t.Fatalf("expected validation error for duplicate id, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestSnapshotJSONRoundTripReconcilesSequences(t *testing.T) {
	store := NewStore(nil)
	seedReportWithTeams(t, store)
	snapshot := store.ExportState()
	snapshot.Sequences = nil
	data, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := NewStore(nil)
	restored.ImportState(decoded)
	_, err = restored.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		team, err := tx.CreateTeam(Team{Name: "Third"})
		if err == nil && team.ID != 3 {
			t.Fatalf("expected reconciled team sequence, got %d", team.ID)
		}
		return err
	})
	if err != nil {
		t.Fatalf("create after restore: %v", err)
	}
}

func TestViewIsolatedFromLaterCommits(t *testing.T) {
	store := NewStore(nil)
	seedReportWithTeams(t, store)
	err := store.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ListTeams()) != 2 {
			t.Fatalf("expected two teams in view")
		}
		if _, ok := view.FindReport(1); !ok {
			t.Fatalf("expected report in view")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestMembershipAndSanctionQueries(t *testing.T) {
	store := NewStore(nil)
	report, a, b := seedReportWithTeams(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		game, err := tx.CreateGame(GameRecord{ReportID: report.ID, TeamAID: a.ID, TeamBID: b.ID})
		if err != nil {
			return err
		}
		if _, err := tx.CreateMembership(AmalgamationMembership{UmbrellaTeamID: a.ID, AddedTeamID: b.ID}); err != nil {
			return err
		}
		if _, err := tx.CreateDisciplinaryAction(DisciplinaryAction{GameID: game.ID, TeamID: b.ID, Player: "7", Card: "yellow"}); err != nil {
			return err
		}
		if _, err := tx.CreateInjury(Injury{GameID: game.ID, TeamID: a.ID, Player: "9"}); err != nil {
			return err
		}
		if got := tx.ListGamesByTeam(b.ID); len(got) != 1 {
			t.Fatalf("expected game listed for away team, got %d", len(got))
		}
		if got := tx.ListMembershipsByUmbrella(a.ID); len(got) != 1 || got[0].AddedTeamID != b.ID {
			t.Fatalf("unexpected umbrella memberships: %+v", got)
		}
		if got := tx.ListMembershipsByAddedTeam(b.ID); len(got) != 1 {
			t.Fatalf("unexpected added memberships: %+v", got)
		}
		if got := tx.ListDisciplinaryActionsByTeam(b.ID); len(got) != 1 {
			t.Fatalf("unexpected actions: %+v", got)
		}
		if got := tx.ListInjuriesByTeam(a.ID); len(got) != 1 {
			t.Fatalf("unexpected injuries: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}
