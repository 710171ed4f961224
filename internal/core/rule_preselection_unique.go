package core

import (
	"context"
	"fmt"

	"refereecore/pkg/domain"
)

// NewPreselectionUniqueRule returns the rule refusing a second preselection of
// the same team on one report.
func NewPreselectionUniqueRule() domain.Rule {
	return preselectionUniqueRule{}
}

type preselectionUniqueRule struct{}

func (preselectionUniqueRule) Name() string { return "preselection_unique" }

func (r preselectionUniqueRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	touched := touchedIDs(changes, domain.EntityPreselection)
	if len(touched) == 0 {
		return domain.Result{}, nil
	}
	type pair struct{ report, team int64 }
	byID := make(map[int64]domain.TeamPreselection)
	counts := make(map[pair]int)
	for _, p := range view.ListPreselections() {
		byID[p.ID] = p
		counts[pair{p.ReportID, p.TeamID}]++
	}

	res := domain.Result{}
	reported := make(map[pair]bool)
	for _, id := range touched {
		p, ok := byID[id]
		if !ok {
			continue
		}
		k := pair{p.ReportID, p.TeamID}
		if counts[k] < 2 || reported[k] {
			continue
		}
		reported[k] = true
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("team %d is preselected %d times on report %d", p.TeamID, counts[k], p.ReportID),
			Entity:   domain.EntityPreselection,
			EntityID: p.ID,
		})
	}
	return res, nil
}
