package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestReportPatchDistinguishesOmittedFromNull(t *testing.T) {
	submittedAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	report := Report{Note: "keep", Submitted: true, SubmittedAt: &submittedAt}

	var patch ReportPatch
	if err := json.Unmarshal([]byte(`{"note":null}`), &patch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if patch.Empty() || !patch.Note.IsSet() || patch.Submitted.IsSet() || patch.SubmittedAt.IsSet() {
		t.Fatalf("unexpected patch state %+v", patch)
	}
	patch.Apply(&report)
	if report.Note != "" || !report.Submitted || report.SubmittedAt == nil {
		t.Fatalf("expected only note cleared, got %+v", report)
	}

	patch = ReportPatch{}
	if err := json.Unmarshal([]byte(`{"submitted":false,"submitted_at":null}`), &patch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	patch.Apply(&report)
	if report.Submitted || report.SubmittedAt != nil {
		t.Fatalf("expected submission cleared, got %+v", report)
	}
}

func TestReportPatchNormalisesTimestamp(t *testing.T) {
	local := time.Date(2024, 5, 1, 11, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	var report Report
	ReportPatch{SubmittedAt: Set(&local)}.Apply(&report)
	if report.SubmittedAt == nil || report.SubmittedAt.Location() != time.UTC || !report.SubmittedAt.Equal(local) {
		t.Fatalf("expected UTC timestamp, got %v", report.SubmittedAt)
	}
}

func TestEmptyPatch(t *testing.T) {
	var patch ReportPatch
	if err := json.Unmarshal([]byte(`{}`), &patch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !patch.Empty() {
		t.Fatalf("expected empty patch")
	}
	data, err := json.Marshal(patch)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"note":null,"submitted":null,"submitted_at":null}` {
		t.Fatalf("unexpected encoding %s", data)
	}
}
