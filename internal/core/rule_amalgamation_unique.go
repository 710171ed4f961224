package core

import (
	"context"
	"fmt"

	"refereecore/pkg/domain"
)

// NewAmalgamationUniqueRule returns the rule keeping each (umbrella, added)
// pair unique and forbidding a team from joining itself.
func NewAmalgamationUniqueRule() domain.Rule {
	return amalgamationUniqueRule{}
}

type amalgamationUniqueRule struct{}

func (amalgamationUniqueRule) Name() string { return "amalgamation_unique" }

func (r amalgamationUniqueRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	touched := touchedIDs(changes, domain.EntityAmalgamationMembership)
	if len(touched) == 0 {
		return domain.Result{}, nil
	}
	type pair struct{ umbrella, added int64 }
	byID := make(map[int64]domain.AmalgamationMembership)
	counts := make(map[pair]int)
	for _, m := range view.ListMemberships() {
		byID[m.ID] = m
		counts[pair{m.UmbrellaTeamID, m.AddedTeamID}]++
	}

	res := domain.Result{}
	reported := make(map[pair]bool)
	for _, id := range touched {
		m, ok := byID[id]
		if !ok {
			continue
		}
		k := pair{m.UmbrellaTeamID, m.AddedTeamID}
		if reported[k] {
			continue
		}
		switch {
		case m.UmbrellaTeamID == m.AddedTeamID:
			reported[k] = true
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("team %d cannot be a member of itself", m.UmbrellaTeamID),
				Entity:   domain.EntityAmalgamationMembership,
				EntityID: m.ID,
			})
		case counts[k] > 1:
			reported[k] = true
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("team %d appears %d times in amalgamation %d", m.AddedTeamID, counts[k], m.UmbrellaTeamID),
				Entity:   domain.EntityAmalgamationMembership,
				EntityID: m.ID,
			})
		}
	}
	return res, nil
}
