package reconcile

import (
	"fmt"

	"refereecore/pkg/domain"
)

// TeamMergeRequest is the administrative request to fold duplicate teams into
// a surviving base team.
type TeamMergeRequest struct {
	BaseTeamID      int64   `json:"baseTeamId"`
	TeamsToMergeIDs []int64 `json:"teamsToMergeIds"`
	DryRun          bool    `json:"dryRun,omitempty"`
}

// Validate rejects requests that cannot be merged regardless of stored state.
func (r TeamMergeRequest) Validate() error {
	if r.BaseTeamID <= 0 {
		return domain.ValidationError{Field: "baseTeamId", Message: "must be a positive team id"}
	}
	if len(r.TeamsToMergeIDs) == 0 {
		return domain.ValidationError{Field: "teamsToMergeIds", Message: "at least one team to merge is required"}
	}
	seen := make(map[int64]struct{}, len(r.TeamsToMergeIDs))
	for _, id := range r.TeamsToMergeIDs {
		if id <= 0 {
			return domain.ValidationError{Field: "teamsToMergeIds", Message: fmt.Sprintf("team id %d must be positive", id)}
		}
		if id == r.BaseTeamID {
			return domain.ValidationError{Field: "teamsToMergeIds", Message: fmt.Sprintf("base team %d cannot be merged into itself", id)}
		}
		if _, dup := seen[id]; dup {
			return domain.ValidationError{Field: "teamsToMergeIds", Message: fmt.Sprintf("team %d listed more than once", id)}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// TeamMergeSummary counts the rows each team merge redirected or removed.
type TeamMergeSummary struct {
	BaseTeamID                 int64   `json:"baseTeamId"`
	MergedTeamIDs              []int64 `json:"mergedTeamIds"`
	MembershipsMoved           int     `json:"membershipsMoved"`
	MembershipsDropped         int     `json:"membershipsDropped"`
	UmbrellaMembershipsMoved   int     `json:"umbrellaMembershipsMoved"`
	UmbrellaMembershipsDropped int     `json:"umbrellaMembershipsDropped"`
	GameSidesMoved             int     `json:"gameSidesMoved"`
	DisciplinaryActionsMoved   int     `json:"disciplinaryActionsMoved"`
	InjuriesMoved              int     `json:"injuriesMoved"`
	PreselectionsMoved         int     `json:"preselectionsMoved"`
	PreselectionsDropped       int     `json:"preselectionsDropped"`
}

// MergeTeams folds every team in req.TeamsToMergeIDs into the base team inside
// tx and deletes them. Any error leaves tx in a state the caller must discard;
// RunInTransaction does that by returning the error.
//
// The base team and every source must exist. A missing id of either kind
// aborts the whole call with a domain.NotFoundError before anything changes.
func MergeTeams(tx domain.Transaction, req TeamMergeRequest) (TeamMergeSummary, error) {
	summary := TeamMergeSummary{BaseTeamID: req.BaseTeamID, MergedTeamIDs: []int64{}}
	if err := req.Validate(); err != nil {
		return summary, err
	}
	base, ok := tx.FindTeam(req.BaseTeamID)
	if !ok {
		return summary, domain.NotFoundError{Entity: domain.EntityTeam, ID: req.BaseTeamID}
	}
	for _, id := range req.TeamsToMergeIDs {
		if _, ok := tx.FindTeam(id); !ok {
			return summary, domain.NotFoundError{Entity: domain.EntityTeam, ID: id}
		}
	}

	for _, sourceID := range req.TeamsToMergeIDs {
		if err := absorbTeam(tx, base.ID, sourceID, &summary); err != nil {
			return summary, fmt.Errorf("merge team %d into %d: %w", sourceID, base.ID, err)
		}
		summary.MergedTeamIDs = append(summary.MergedTeamIDs, sourceID)
	}

	if summary.UmbrellaMembershipsMoved > 0 && !base.Amalgamation {
		if _, err := tx.UpdateTeam(base.ID, func(t *domain.Team) error {
			t.Amalgamation = true
			return nil
		}); err != nil {
			return summary, fmt.Errorf("flag team %d as amalgamation: %w", base.ID, err)
		}
	}
	return summary, nil
}

func absorbTeam(tx domain.Transaction, baseID, sourceID int64, summary *TeamMergeSummary) error {
	steps := []func(domain.Transaction, int64, int64, *TeamMergeSummary) error{
		redirectAddedMemberships,
		redirectUmbrellaMemberships,
		redirectGameSides,
		redirectSanctions,
		redirectPreselections,
	}
	for _, step := range steps {
		if err := step(tx, baseID, sourceID, summary); err != nil {
			return err
		}
	}
	return tx.DeleteTeam(sourceID)
}

func umbrellaHasMember(tx domain.Transaction, umbrellaID, addedID int64) bool {
	for _, m := range tx.ListMembershipsByUmbrella(umbrellaID) {
		if m.AddedTeamID == addedID {
			return true
		}
	}
	return false
}

// redirectAddedMemberships moves the source's seats in umbrella teams to base.
// Uniqueness is per umbrella, and base never becomes a member of itself.
func redirectAddedMemberships(tx domain.Transaction, baseID, sourceID int64, summary *TeamMergeSummary) error {
	for _, m := range tx.ListMembershipsByAddedTeam(sourceID) {
		if m.UmbrellaTeamID == baseID || umbrellaHasMember(tx, m.UmbrellaTeamID, baseID) {
			if err := tx.DeleteMembership(m.ID); err != nil {
				return err
			}
			summary.MembershipsDropped++
			continue
		}
		if _, err := tx.UpdateMembership(m.ID, func(row *domain.AmalgamationMembership) error {
			row.AddedTeamID = baseID
			return nil
		}); err != nil {
			return err
		}
		summary.MembershipsMoved++
	}
	return nil
}

// redirectUmbrellaMemberships hands the source's constituent teams to base when
// the source itself was an umbrella.
func redirectUmbrellaMemberships(tx domain.Transaction, baseID, sourceID int64, summary *TeamMergeSummary) error {
	for _, m := range tx.ListMembershipsByUmbrella(sourceID) {
		if m.AddedTeamID == baseID || umbrellaHasMember(tx, baseID, m.AddedTeamID) {
			if err := tx.DeleteMembership(m.ID); err != nil {
				return err
			}
			summary.UmbrellaMembershipsDropped++
			continue
		}
		if _, err := tx.UpdateMembership(m.ID, func(row *domain.AmalgamationMembership) error {
			row.UmbrellaTeamID = baseID
			return nil
		}); err != nil {
			return err
		}
		summary.UmbrellaMembershipsMoved++
	}
	return nil
}

func redirectGameSides(tx domain.Transaction, baseID, sourceID int64, summary *TeamMergeSummary) error {
	for _, game := range tx.ListGamesByTeam(sourceID) {
		moved := 0
		if _, err := tx.UpdateGame(game.ID, func(g *domain.GameRecord) error {
			if g.TeamAID == sourceID {
				g.TeamAID = baseID
				moved++
			}
			if g.TeamBID == sourceID {
				g.TeamBID = baseID
				moved++
			}
			return nil
		}); err != nil {
			return err
		}
		summary.GameSidesMoved += moved
	}
	return nil
}

func redirectSanctions(tx domain.Transaction, baseID, sourceID int64, summary *TeamMergeSummary) error {
	for _, action := range tx.ListDisciplinaryActionsByTeam(sourceID) {
		if _, err := tx.UpdateDisciplinaryAction(action.ID, func(a *domain.DisciplinaryAction) error {
			a.TeamID = baseID
			return nil
		}); err != nil {
			return err
		}
		summary.DisciplinaryActionsMoved++
	}
	for _, injury := range tx.ListInjuriesByTeam(sourceID) {
		if _, err := tx.UpdateInjury(injury.ID, func(i *domain.Injury) error {
			i.TeamID = baseID
			return nil
		}); err != nil {
			return err
		}
		summary.InjuriesMoved++
	}
	return nil
}

// redirectPreselections keeps base preselected at most once per report.
func redirectPreselections(tx domain.Transaction, baseID, sourceID int64, summary *TeamMergeSummary) error {
	for _, presel := range tx.ListPreselectionsByTeam(sourceID) {
		baseAlready := false
		for _, other := range tx.ListPreselectionsByReport(presel.ReportID) {
			if other.TeamID == baseID {
				baseAlready = true
				break
			}
		}
		if baseAlready {
			if err := tx.DeletePreselection(presel.ID); err != nil {
				return err
			}
			summary.PreselectionsDropped++
			continue
		}
		if _, err := tx.UpdatePreselection(presel.ID, func(p *domain.TeamPreselection) error {
			p.TeamID = baseID
			return nil
		}); err != nil {
			return err
		}
		summary.PreselectionsMoved++
	}
	return nil
}
