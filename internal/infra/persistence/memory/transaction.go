package memory

import (
	"fmt"
	"time"

	"refereecore/pkg/domain"
)

// transaction represents a mutation set applied to a cloned store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) nextID(entity domain.EntityType) int64 {
	tx.state.sequences[entity]++
	return tx.state.sequences[entity]
}

// claimID returns id when it is free, or the next sequence value when id is
// zero. A preset id moves the sequence forward so later ids never collide.
func (tx *transaction) claimID(entity domain.EntityType, id int64, taken bool) (int64, error) {
	if id == 0 {
		return tx.nextID(entity), nil
	}
	if id < 0 {
		return 0, domain.ValidationError{Field: "id", Message: fmt.Sprintf("%s id must be positive", entity)}
	}
	if taken {
		return 0, domain.ValidationError{Field: "id", Message: fmt.Sprintf("%s %d already exists", entity, id)}
	}
	if tx.state.sequences[entity] < id {
		tx.state.sequences[entity] = id
	}
	return id, nil
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func notFound(entity domain.EntityType, id int64) error {
	return domain.NotFoundError{Entity: entity, ID: id}
}

// CreateReport stores a new report.
func (tx *transaction) CreateReport(r Report) (Report, error) {
	_, exists := tx.state.reports[r.ID]
	id, err := tx.claimID(domain.EntityReport, r.ID, exists)
	if err != nil {
		return Report{}, err
	}
	r.ID = id
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.reports[r.ID] = cloneReport(r)
	tx.recordChange(Change{Entity: domain.EntityReport, Action: domain.ActionCreate, After: cloneReport(r)})
	return cloneReport(r), nil
}

// UpdateReport mutates a report using the provided mutator function.
func (tx *transaction) UpdateReport(id int64, mutator func(*Report) error) (Report, error) {
	current, ok := tx.state.reports[id]
	if !ok {
		return Report{}, notFound(domain.EntityReport, id)
	}
	before := cloneReport(current)
	current = cloneReport(current)
	if err := mutator(&current); err != nil {
		return Report{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.reports[id] = cloneReport(current)
	tx.recordChange(Change{Entity: domain.EntityReport, Action: domain.ActionUpdate, Before: before, After: cloneReport(current)})
	return cloneReport(current), nil
}

// DeleteReport removes a report that no longer owns any child rows.
func (tx *transaction) DeleteReport(id int64) error {
	current, ok := tx.state.reports[id]
	if !ok {
		return notFound(domain.EntityReport, id)
	}
	for _, g := range tx.state.games {
		if g.ReportID == id {
			return fmt.Errorf("report %d still owns game %d", id, g.ID)
		}
	}
	for _, p := range tx.state.pitches {
		if p.ReportID == id {
			return fmt.Errorf("report %d still owns pitch %d", id, p.ID)
		}
	}
	for _, p := range tx.state.preselections {
		if p.ReportID == id {
			return fmt.Errorf("report %d still owns preselection %d", id, p.ID)
		}
	}
	delete(tx.state.reports, id)
	tx.recordChange(Change{Entity: domain.EntityReport, Action: domain.ActionDelete, Before: cloneReport(current)})
	return nil
}

// FindReport exposes report lookup within the transaction scope.
func (tx *transaction) FindReport(id int64) (Report, bool) {
	return newTransactionView(&tx.state).FindReport(id)
}

func (tx *transaction) requireReport(id int64) error {
	if _, ok := tx.state.reports[id]; !ok {
		return notFound(domain.EntityReport, id)
	}
	return nil
}

func (tx *transaction) requireTeam(id int64) error {
	if _, ok := tx.state.teams[id]; !ok {
		return notFound(domain.EntityTeam, id)
	}
	return nil
}

func (tx *transaction) requireGame(id int64) error {
	if _, ok := tx.state.games[id]; !ok {
		return notFound(domain.EntityGame, id)
	}
	return nil
}

// CreateGame stores a new game owned by an existing report.
func (tx *transaction) CreateGame(g GameRecord) (GameRecord, error) {
	if err := tx.requireReport(g.ReportID); err != nil {
		return GameRecord{}, err
	}
	for _, teamID := range []int64{g.TeamAID, g.TeamBID} {
		if err := tx.requireTeam(teamID); err != nil {
			return GameRecord{}, err
		}
	}
	g.ID = tx.nextID(domain.EntityGame)
	g.CreatedAt = tx.now
	g.UpdatedAt = tx.now
	tx.state.games[g.ID] = g
	tx.recordChange(Change{Entity: domain.EntityGame, Action: domain.ActionCreate, After: g})
	return g, nil
}

// UpdateGame mutates a game using the provided mutator function.
func (tx *transaction) UpdateGame(id int64, mutator func(*GameRecord) error) (GameRecord, error) {
	current, ok := tx.state.games[id]
	if !ok {
		return GameRecord{}, notFound(domain.EntityGame, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return GameRecord{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.games[id] = current
	tx.recordChange(Change{Entity: domain.EntityGame, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// ListGamesByReport returns the games owned by a report.
func (tx *transaction) ListGamesByReport(reportID int64) []GameRecord {
	return sortedValues(tx.state.games, func(g GameRecord) bool { return g.ReportID == reportID })
}

// ListGamesByTeam returns the games where the team plays either side.
func (tx *transaction) ListGamesByTeam(teamID int64) []GameRecord {
	return sortedValues(tx.state.games, func(g GameRecord) bool { return g.TeamAID == teamID || g.TeamBID == teamID })
}

// CreatePitch stores a new pitch owned by an existing report.
func (tx *transaction) CreatePitch(p PitchRecord) (PitchRecord, error) {
	if err := tx.requireReport(p.ReportID); err != nil {
		return PitchRecord{}, err
	}
	p.ID = tx.nextID(domain.EntityPitch)
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.pitches[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityPitch, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdatePitch mutates a pitch using the provided mutator function.
func (tx *transaction) UpdatePitch(id int64, mutator func(*PitchRecord) error) (PitchRecord, error) {
	current, ok := tx.state.pitches[id]
	if !ok {
		return PitchRecord{}, notFound(domain.EntityPitch, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return PitchRecord{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.pitches[id] = current
	tx.recordChange(Change{Entity: domain.EntityPitch, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// ListPitchesByReport returns the pitches owned by a report.
func (tx *transaction) ListPitchesByReport(reportID int64) []PitchRecord {
	return sortedValues(tx.state.pitches, func(p PitchRecord) bool { return p.ReportID == reportID })
}

// CreatePreselection attaches a team to a report. Uniqueness of the pair is
// not checked here; the default rules engine refuses the commit instead.
func (tx *transaction) CreatePreselection(p TeamPreselection) (TeamPreselection, error) {
	if err := tx.requireReport(p.ReportID); err != nil {
		return TeamPreselection{}, err
	}
	if err := tx.requireTeam(p.TeamID); err != nil {
		return TeamPreselection{}, err
	}
	p.ID = tx.nextID(domain.EntityPreselection)
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.preselections[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityPreselection, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdatePreselection mutates a preselection using the provided mutator function.
func (tx *transaction) UpdatePreselection(id int64, mutator func(*TeamPreselection) error) (TeamPreselection, error) {
	current, ok := tx.state.preselections[id]
	if !ok {
		return TeamPreselection{}, notFound(domain.EntityPreselection, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return TeamPreselection{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.preselections[id] = current
	tx.recordChange(Change{Entity: domain.EntityPreselection, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeletePreselection removes a preselection row.
func (tx *transaction) DeletePreselection(id int64) error {
	current, ok := tx.state.preselections[id]
	if !ok {
		return notFound(domain.EntityPreselection, id)
	}
	delete(tx.state.preselections, id)
	tx.recordChange(Change{Entity: domain.EntityPreselection, Action: domain.ActionDelete, Before: current})
	return nil
}

// ListPreselectionsByReport returns the preselections attached to a report.
func (tx *transaction) ListPreselectionsByReport(reportID int64) []TeamPreselection {
	return sortedValues(tx.state.preselections, func(p TeamPreselection) bool { return p.ReportID == reportID })
}

// ListPreselectionsByTeam returns every preselection of a team across reports.
func (tx *transaction) ListPreselectionsByTeam(teamID int64) []TeamPreselection {
	return sortedValues(tx.state.preselections, func(p TeamPreselection) bool { return p.TeamID == teamID })
}

// CreateTeam stores a new team.
func (tx *transaction) CreateTeam(t Team) (Team, error) {
	_, exists := tx.state.teams[t.ID]
	id, err := tx.claimID(domain.EntityTeam, t.ID, exists)
	if err != nil {
		return Team{}, err
	}
	t.ID = id
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.teams[t.ID] = t
	tx.recordChange(Change{Entity: domain.EntityTeam, Action: domain.ActionCreate, After: t})
	return t, nil
}

// UpdateTeam mutates a team using the provided mutator function.
func (tx *transaction) UpdateTeam(id int64, mutator func(*Team) error) (Team, error) {
	current, ok := tx.state.teams[id]
	if !ok {
		return Team{}, notFound(domain.EntityTeam, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Team{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.teams[id] = current
	tx.recordChange(Change{Entity: domain.EntityTeam, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteTeam removes a team that no row references any more.
func (tx *transaction) DeleteTeam(id int64) error {
	current, ok := tx.state.teams[id]
	if !ok {
		return notFound(domain.EntityTeam, id)
	}
	for _, g := range tx.state.games {
		if g.TeamAID == id || g.TeamBID == id {
			return fmt.Errorf("team %d still referenced by game %d", id, g.ID)
		}
	}
	for _, p := range tx.state.preselections {
		if p.TeamID == id {
			return fmt.Errorf("team %d still referenced by preselection %d", id, p.ID)
		}
	}
	for _, m := range tx.state.memberships {
		if m.UmbrellaTeamID == id || m.AddedTeamID == id {
			return fmt.Errorf("team %d still referenced by amalgamation membership %d", id, m.ID)
		}
	}
	for _, a := range tx.state.actions {
		if a.TeamID == id {
			return fmt.Errorf("team %d still referenced by disciplinary action %d", id, a.ID)
		}
	}
	for _, i := range tx.state.injuries {
		if i.TeamID == id {
			return fmt.Errorf("team %d still referenced by injury %d", id, i.ID)
		}
	}
	delete(tx.state.teams, id)
	tx.recordChange(Change{Entity: domain.EntityTeam, Action: domain.ActionDelete, Before: current})
	return nil
}

// FindTeam exposes team lookup within the transaction scope.
func (tx *transaction) FindTeam(id int64) (Team, bool) {
	t, ok := tx.state.teams[id]
	return t, ok
}

// CreateMembership places an added team under an umbrella team.
func (tx *transaction) CreateMembership(m AmalgamationMembership) (AmalgamationMembership, error) {
	for _, teamID := range []int64{m.UmbrellaTeamID, m.AddedTeamID} {
		if err := tx.requireTeam(teamID); err != nil {
			return AmalgamationMembership{}, err
		}
	}
	m.ID = tx.nextID(domain.EntityAmalgamationMembership)
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.memberships[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityAmalgamationMembership, Action: domain.ActionCreate, After: m})
	return m, nil
}

// UpdateMembership mutates a membership using the provided mutator function.
func (tx *transaction) UpdateMembership(id int64, mutator func(*AmalgamationMembership) error) (AmalgamationMembership, error) {
	current, ok := tx.state.memberships[id]
	if !ok {
		return AmalgamationMembership{}, notFound(domain.EntityAmalgamationMembership, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return AmalgamationMembership{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.memberships[id] = current
	tx.recordChange(Change{Entity: domain.EntityAmalgamationMembership, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteMembership removes a membership row.
func (tx *transaction) DeleteMembership(id int64) error {
	current, ok := tx.state.memberships[id]
	if !ok {
		return notFound(domain.EntityAmalgamationMembership, id)
	}
	delete(tx.state.memberships, id)
	tx.recordChange(Change{Entity: domain.EntityAmalgamationMembership, Action: domain.ActionDelete, Before: current})
	return nil
}

// ListMembershipsByAddedTeam returns memberships where the team is the added side.
func (tx *transaction) ListMembershipsByAddedTeam(teamID int64) []AmalgamationMembership {
	return sortedValues(tx.state.memberships, func(m AmalgamationMembership) bool { return m.AddedTeamID == teamID })
}

// ListMembershipsByUmbrella returns memberships of an umbrella team.
func (tx *transaction) ListMembershipsByUmbrella(teamID int64) []AmalgamationMembership {
	return sortedValues(tx.state.memberships, func(m AmalgamationMembership) bool { return m.UmbrellaTeamID == teamID })
}

// CreateDisciplinaryAction records a sanction against one side of a game.
func (tx *transaction) CreateDisciplinaryAction(a DisciplinaryAction) (DisciplinaryAction, error) {
	if err := tx.requireGame(a.GameID); err != nil {
		return DisciplinaryAction{}, err
	}
	if err := tx.requireTeam(a.TeamID); err != nil {
		return DisciplinaryAction{}, err
	}
	a.ID = tx.nextID(domain.EntityDisciplinaryAction)
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.actions[a.ID] = a
	tx.recordChange(Change{Entity: domain.EntityDisciplinaryAction, Action: domain.ActionCreate, After: a})
	return a, nil
}

// UpdateDisciplinaryAction mutates a disciplinary action using the provided mutator function.
func (tx *transaction) UpdateDisciplinaryAction(id int64, mutator func(*DisciplinaryAction) error) (DisciplinaryAction, error) {
	current, ok := tx.state.actions[id]
	if !ok {
		return DisciplinaryAction{}, notFound(domain.EntityDisciplinaryAction, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return DisciplinaryAction{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.actions[id] = current
	tx.recordChange(Change{Entity: domain.EntityDisciplinaryAction, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// ListDisciplinaryActionsByTeam returns the sanctions recorded against a team.
func (tx *transaction) ListDisciplinaryActionsByTeam(teamID int64) []DisciplinaryAction {
	return sortedValues(tx.state.actions, func(a DisciplinaryAction) bool { return a.TeamID == teamID })
}

// CreateInjury records an injury for one side of a game.
func (tx *transaction) CreateInjury(i Injury) (Injury, error) {
	if err := tx.requireGame(i.GameID); err != nil {
		return Injury{}, err
	}
	if err := tx.requireTeam(i.TeamID); err != nil {
		return Injury{}, err
	}
	i.ID = tx.nextID(domain.EntityInjury)
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	tx.state.injuries[i.ID] = i
	tx.recordChange(Change{Entity: domain.EntityInjury, Action: domain.ActionCreate, After: i})
	return i, nil
}

// UpdateInjury mutates an injury using the provided mutator function.
func (tx *transaction) UpdateInjury(id int64, mutator func(*Injury) error) (Injury, error) {
	current, ok := tx.state.injuries[id]
	if !ok {
		return Injury{}, notFound(domain.EntityInjury, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Injury{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.injuries[id] = current
	tx.recordChange(Change{Entity: domain.EntityInjury, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// ListInjuriesByTeam returns the injuries recorded against a team.
func (tx *transaction) ListInjuriesByTeam(teamID int64) []Injury {
	return sortedValues(tx.state.injuries, func(i Injury) bool { return i.TeamID == teamID })
}
