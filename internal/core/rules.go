package core

import "refereecore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewPreselectionUniqueRule())
	engine.Register(NewAmalgamationUniqueRule())
	engine.Register(NewReferenceIntegrityRule())
	return engine
}

// touchedIDs returns the ids of entity rows created or updated by changes.
func touchedIDs(changes []Change, entity domain.EntityType) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, change := range changes {
		if change.Entity != entity || change.Action == domain.ActionDelete {
			continue
		}
		var id int64
		switch after := change.After.(type) {
		case domain.TeamPreselection:
			id = after.ID
		case domain.AmalgamationMembership:
			id = after.ID
		case domain.GameRecord:
			id = after.ID
		case domain.PitchRecord:
			id = after.ID
		case domain.DisciplinaryAction:
			id = after.ID
		case domain.Injury:
			id = after.ID
		default:
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
