package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MergeKind distinguishes journaled merges.
type MergeKind string

const (
	// MergeKindReport is a duplicate report group collapsed by reconciliation.
	MergeKindReport MergeKind = "report"
	// MergeKindTeam is an administrative team merge.
	MergeKindTeam MergeKind = "team"
)

// MergeRecord is the journal entry written after a merge commits.
type MergeRecord struct {
	ID         uuid.UUID       `json:"id"`
	Kind       MergeKind       `json:"kind"`
	TargetID   int64           `json:"target_id"`
	SourceIDs  []int64         `json:"source_ids"`
	MergedBy   string          `json:"merged_by"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// MergeJournal stores merge records. Failures never undo a committed merge.
type MergeJournal interface {
	Append(ctx context.Context, record MergeRecord) error
	List(ctx context.Context) ([]MergeRecord, error)
}

type actorKey struct{}

// WithActor attaches the name of whoever requested an operation to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor, or fallback.
func ActorFromContext(ctx context.Context, fallback string) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return fallback
}

func (s *Service) journalMerge(ctx context.Context, kind MergeKind, targetID int64, sourceIDs []int64, actor string, summary any) {
	if s.journal == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		s.logger.Warn("encode merge summary", "kind", kind, "target_id", targetID, "error", err)
		payload = nil
	}
	record := MergeRecord{
		ID:         uuid.New(),
		Kind:       kind,
		TargetID:   targetID,
		SourceIDs:  append([]int64(nil), sourceIDs...),
		MergedBy:   actor,
		Summary:    payload,
		OccurredAt: s.clock.Now().UTC(),
	}
	if err := s.journal.Append(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn("journal merge", "kind", kind, "target_id", targetID, "record_id", record.ID, "error", err)
	}
}

// ListMerges returns the journaled merges, or an empty list without a journal.
func (s *Service) ListMerges(ctx context.Context) ([]MergeRecord, error) {
	if s.journal == nil {
		return []MergeRecord{}, nil
	}
	return s.journal.List(ctx)
}
