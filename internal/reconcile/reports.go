package reconcile

import (
	"fmt"
	"strings"
	"time"

	"refereecore/pkg/domain"
)

// ReportMergeSummary describes what one group merge changed.
type ReportMergeSummary struct {
	Key                  domain.ReportKey `json:"key"`
	TargetID             int64            `json:"target_id"`
	MergedSourceIDs      []int64          `json:"merged_source_ids"`
	SkippedSourceIDs     []int64          `json:"skipped_source_ids,omitempty"`
	GamesMoved           int              `json:"games_moved"`
	PitchesMoved         int              `json:"pitches_moved"`
	PreselectionsMoved   int              `json:"preselections_moved"`
	PreselectionsDropped int              `json:"preselections_dropped"`
}

// Changed reports whether the merge touched anything.
func (s ReportMergeSummary) Changed() bool { return len(s.MergedSourceIDs) > 0 }

// MergeReportGroup collapses group into its target report inside tx.
//
// Games and pitches of every source are re-owned in place. A source
// preselection is deleted when the target already preselects the same team and
// re-owned otherwise. The target keeps the latest submit timestamp and gains
// each non-blank source note on its own line. Sources are then deleted.
//
// A missing target aborts the group with a domain.NotFoundError. Sources that
// have disappeared, were unsubmitted, or moved to another key since the group
// was computed are skipped.
func MergeReportGroup(tx domain.Transaction, group ReportGroup) (ReportMergeSummary, error) {
	summary := ReportMergeSummary{Key: group.Key, TargetID: group.TargetID, MergedSourceIDs: []int64{}}
	target, ok := tx.FindReport(group.TargetID)
	if !ok {
		return summary, domain.NotFoundError{Entity: domain.EntityReport, ID: group.TargetID}
	}
	if !target.Submitted || target.Key() != group.Key {
		return summary, domain.ValidationError{
			Field:   "target_id",
			Message: fmt.Sprintf("report %d no longer belongs to group %+v", target.ID, group.Key),
		}
	}

	preselected := make(map[int64]bool)
	for _, p := range tx.ListPreselectionsByReport(target.ID) {
		preselected[p.TeamID] = true
	}

	note := target.Note
	submittedAt := target.SubmittedAt
	for _, sourceID := range group.SourceIDs {
		source, ok := tx.FindReport(sourceID)
		if !ok || sourceID == target.ID || !source.Submitted || source.Key() != target.Key() {
			summary.SkippedSourceIDs = append(summary.SkippedSourceIDs, sourceID)
			continue
		}
		if err := absorbReport(tx, target.ID, source, preselected, &summary); err != nil {
			return summary, fmt.Errorf("merge report %d into %d: %w", sourceID, target.ID, err)
		}
		submittedAt = laterOf(submittedAt, source.SubmittedAt)
		note = appendNote(note, source.Note)
		summary.MergedSourceIDs = append(summary.MergedSourceIDs, sourceID)
	}

	if !summary.Changed() {
		return summary, nil
	}
	_, err := tx.UpdateReport(target.ID, func(r *domain.Report) error {
		r.Note = note
		r.SubmittedAt = submittedAt
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("update target report %d: %w", target.ID, err)
	}
	return summary, nil
}

func absorbReport(tx domain.Transaction, targetID int64, source domain.Report, preselected map[int64]bool, summary *ReportMergeSummary) error {
	for _, game := range tx.ListGamesByReport(source.ID) {
		if _, err := tx.UpdateGame(game.ID, func(g *domain.GameRecord) error {
			g.ReportID = targetID
			return nil
		}); err != nil {
			return err
		}
		summary.GamesMoved++
	}
	for _, pitch := range tx.ListPitchesByReport(source.ID) {
		if _, err := tx.UpdatePitch(pitch.ID, func(p *domain.PitchRecord) error {
			p.ReportID = targetID
			return nil
		}); err != nil {
			return err
		}
		summary.PitchesMoved++
	}
	for _, presel := range tx.ListPreselectionsByReport(source.ID) {
		if preselected[presel.TeamID] {
			if err := tx.DeletePreselection(presel.ID); err != nil {
				return err
			}
			summary.PreselectionsDropped++
			continue
		}
		if _, err := tx.UpdatePreselection(presel.ID, func(p *domain.TeamPreselection) error {
			p.ReportID = targetID
			return nil
		}); err != nil {
			return err
		}
		preselected[presel.TeamID] = true
		summary.PreselectionsMoved++
	}
	return tx.DeleteReport(source.ID)
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case b == nil:
		return a
	case a == nil || b.After(*a):
		t := *b
		return &t
	default:
		return a
	}
}

func appendNote(target, source string) string {
	switch {
	case strings.TrimSpace(source) == "":
		return target
	case strings.TrimSpace(target) == "":
		return source
	default:
		return target + "\n" + source
	}
}
