package core

import (
	"context"
	"fmt"

	"refereecore/pkg/domain"
)

// NewReferenceIntegrityRule returns the rule refusing touched rows that point
// at reports, games or teams missing from the committed state.
func NewReferenceIntegrityRule() domain.Rule {
	return referenceIntegrityRule{}
}

type referenceIntegrityRule struct{}

func (referenceIntegrityRule) Name() string { return "reference_integrity" }

func (r referenceIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	res := domain.Result{}
	missing := func(entity domain.EntityType, id int64, refEntity domain.EntityType, refID int64) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %d references missing %s %d", entity, id, refEntity, refID),
			Entity:   entity,
			EntityID: id,
		})
	}
	hasReport := func(id int64) bool { _, ok := view.FindReport(id); return ok }
	hasTeam := func(id int64) bool { _, ok := view.FindTeam(id); return ok }
	hasGame := func(id int64) bool { _, ok := view.FindGame(id); return ok }

	if ids := touchedIDs(changes, domain.EntityGame); len(ids) > 0 {
		for _, id := range ids {
			g, ok := view.FindGame(id)
			if !ok {
				continue
			}
			if !hasReport(g.ReportID) {
				missing(domain.EntityGame, g.ID, domain.EntityReport, g.ReportID)
			}
			for _, team := range []int64{g.TeamAID, g.TeamBID} {
				if !hasTeam(team) {
					missing(domain.EntityGame, g.ID, domain.EntityTeam, team)
				}
			}
		}
	}
	if ids := indexSet(touchedIDs(changes, domain.EntityPitch)); len(ids) > 0 {
		for _, p := range view.ListPitches() {
			if ids[p.ID] && !hasReport(p.ReportID) {
				missing(domain.EntityPitch, p.ID, domain.EntityReport, p.ReportID)
			}
		}
	}
	if ids := indexSet(touchedIDs(changes, domain.EntityPreselection)); len(ids) > 0 {
		for _, p := range view.ListPreselections() {
			if !ids[p.ID] {
				continue
			}
			if !hasReport(p.ReportID) {
				missing(domain.EntityPreselection, p.ID, domain.EntityReport, p.ReportID)
			}
			if !hasTeam(p.TeamID) {
				missing(domain.EntityPreselection, p.ID, domain.EntityTeam, p.TeamID)
			}
		}
	}
	if ids := indexSet(touchedIDs(changes, domain.EntityAmalgamationMembership)); len(ids) > 0 {
		for _, m := range view.ListMemberships() {
			if !ids[m.ID] {
				continue
			}
			for _, team := range []int64{m.UmbrellaTeamID, m.AddedTeamID} {
				if !hasTeam(team) {
					missing(domain.EntityAmalgamationMembership, m.ID, domain.EntityTeam, team)
				}
			}
		}
	}
	if ids := indexSet(touchedIDs(changes, domain.EntityDisciplinaryAction)); len(ids) > 0 {
		for _, a := range view.ListDisciplinaryActions() {
			if !ids[a.ID] {
				continue
			}
			if !hasGame(a.GameID) {
				missing(domain.EntityDisciplinaryAction, a.ID, domain.EntityGame, a.GameID)
			}
			if !hasTeam(a.TeamID) {
				missing(domain.EntityDisciplinaryAction, a.ID, domain.EntityTeam, a.TeamID)
			}
		}
	}
	if ids := indexSet(touchedIDs(changes, domain.EntityInjury)); len(ids) > 0 {
		for _, i := range view.ListInjuries() {
			if !ids[i.ID] {
				continue
			}
			if !hasGame(i.GameID) {
				missing(domain.EntityInjury, i.ID, domain.EntityGame, i.GameID)
			}
			if !hasTeam(i.TeamID) {
				missing(domain.EntityInjury, i.ID, domain.EntityTeam, i.TeamID)
			}
		}
	}
	return res, nil
}

func indexSet(ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
