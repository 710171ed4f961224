package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"refereecore/pkg/domain"
)

var fixedNow = time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, s)
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:" + msg) }

func (c *captureLogger) has(call string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			return true
		}
	}
	return false
}

type captureMetricsRecorder struct {
	calls map[string][]bool
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	if c.calls == nil {
		c.calls = make(map[string][]bool)
	}
	c.calls[op] = append(c.calls[op], success)
}

type captureJournal struct {
	mu      sync.Mutex
	records []MergeRecord
	err     error
}

func (j *captureJournal) Append(_ context.Context, record MergeRecord) error {
	if j.err != nil {
		return j.err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, record)
	return nil
}

func (j *captureJournal) List(context.Context) ([]MergeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]MergeRecord(nil), j.records...), nil
}

// blockReportUpdates refuses any transaction that updates the given report.
type blockReportUpdates struct{ id int64 }

func (blockReportUpdates) Name() string { return "block_report_updates" }

func (b blockReportUpdates) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	for _, change := range changes {
		if r, ok := change.After.(domain.Report); ok && change.Action == domain.ActionUpdate && r.ID == b.id {
			return domain.Result{Violations: []domain.Violation{{
				Rule: "block_report_updates", Severity: domain.SeverityBlock, Message: "report is frozen",
				Entity: domain.EntityReport, EntityID: r.ID,
			}}}, nil
		}
	}
	return domain.Result{}, nil
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithClock(ClockFunc(func() time.Time { return fixedNow }))}, opts...)
	return NewInMemoryService(NewDefaultRulesEngine(), opts...)
}

func mustTeam(t *testing.T, svc *Service, name string) domain.Team {
	t.Helper()
	team, _, err := svc.CreateTeam(context.Background(), domain.Team{Name: name})
	if err != nil {
		t.Fatalf("create team %s: %v", name, err)
	}
	return team
}

func mustSubmittedReport(t *testing.T, svc *Service, key domain.ReportKey, note string) domain.Report {
	t.Helper()
	report, _, err := svc.CreateReport(context.Background(), domain.Report{
		TournamentID: key.TournamentID, RefereeID: key.RefereeID, CodeID: key.CodeID, Note: note, Submitted: true,
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	return report
}
