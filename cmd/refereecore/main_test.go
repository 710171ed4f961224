package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"refereecore/internal/core"
	"refereecore/internal/reconcile"
	"refereecore/pkg/domain"
)

type cliEnv struct {
	dbPath  string
	envFile string
}

func setupCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{dbPath: filepath.Join(dir, "state.db"), envFile: filepath.Join(dir, "missing.env")}
	t.Setenv("REFEREECORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("REFEREECORE_SQLITE_PATH", env.dbPath)
	t.Setenv("REFEREECORE_BLOB_DRIVER", "fs")
	t.Setenv("REFEREECORE_BLOB_FS_ROOT", filepath.Join(dir, "blobs"))
	t.Setenv("REFEREECORE_METRICS", "none")
	t.Setenv("REFEREECORE_LOG_LEVEL", "error")
	return env
}

func (e cliEnv) seed(t *testing.T, fn func(svc *core.Service)) {
	t.Helper()
	store, closeStore, err := core.OpenPersistentStore(core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: e.dbPath}, core.NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = closeStore() }()
	fn(core.NewService(store))
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--env-file", e.envFile}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestReconcileCommandPrintsSummary(t *testing.T) {
	env := setupCLIEnv(t)
	env.seed(t, func(svc *core.Service) {
		for _, note := range []string{"first", "second"} {
			if _, _, err := svc.CreateReport(context.Background(), domain.Report{
				TournamentID: 1, RefereeID: 2, CodeID: 3, Note: note, Submitted: true,
			}); err != nil {
				t.Fatalf("create report: %v", err)
			}
		}
	})

	out, err := env.run(t, "reconcile")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	var summary core.ReconcileSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	if summary.GroupsFound != 1 || summary.GroupsMerged != 1 || summary.ReportsRemoved != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	env.seed(t, func(svc *core.Service) {
		if got := len(svc.ListReports()); got != 1 {
			t.Fatalf("expected merged report to persist, got %d reports", got)
		}
	})
}

func TestMergeTeamsCommand(t *testing.T) {
	env := setupCLIEnv(t)
	var base, dup int64
	env.seed(t, func(svc *core.Service) {
		for i, name := range []string{"Rovers", "Rovers FC"} {
			team, _, err := svc.CreateTeam(context.Background(), domain.Team{Name: name})
			if err != nil {
				t.Fatalf("create team: %v", err)
			}
			if i == 0 {
				base = team.ID
			} else {
				dup = team.ID
			}
		}
	})
	baseArg, dupArg := strconv.FormatInt(base, 10), strconv.FormatInt(dup, 10)

	out, err := env.run(t, "merge-teams", "--base", baseArg, "--merge", dupArg, "--dry-run")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.Contains(out, `"dry_run"`) {
		t.Fatalf("expected dry_run status, got %s", out)
	}
	env.seed(t, func(svc *core.Service) {
		if _, ok := svc.GetTeam(dup); !ok {
			t.Fatalf("dry run must not delete team %d", dup)
		}
	})

	out, err = env.run(t, "merge-teams", "--base", baseArg, "--merge", dupArg, "--actor", "alice")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var resp struct {
		Status  string                     `json:"status"`
		Summary reconcile.TeamMergeSummary `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Status != "merged" || len(resp.Summary.MergedTeamIDs) != 1 || resp.Summary.MergedTeamIDs[0] != dup {
		t.Fatalf("unexpected response %+v", resp)
	}
	env.seed(t, func(svc *core.Service) {
		if _, ok := svc.GetTeam(dup); ok {
			t.Fatalf("team %d should be gone", dup)
		}
	})
}

func TestMergeTeamsCommandReportsFailure(t *testing.T) {
	env := setupCLIEnv(t)
	out, err := env.run(t, "merge-teams", "--base", "1", "--merge", "2")
	if err == nil {
		t.Fatal("expected failure for missing teams")
	}
	var failure core.Failure
	if err := json.Unmarshal([]byte(out), &failure); err != nil {
		t.Fatalf("decode failure %q: %v", out, err)
	}
	if failure.Kind != domain.ErrorKindNotFound {
		t.Fatalf("expected not_found, got %+v", failure)
	}
}

func TestMergeTeamsCommandRequiresFlags(t *testing.T) {
	env := setupCLIEnv(t)
	if _, err := env.run(t, "merge-teams", "--merge", "2"); err == nil {
		t.Fatal("expected missing --base to fail")
	}
}

func TestInvalidConfigurationFails(t *testing.T) {
	env := setupCLIEnv(t)
	t.Setenv("REFEREECORE_STORAGE_DRIVER", "oracle")
	if _, err := env.run(t, "reconcile"); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
