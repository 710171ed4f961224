package domain

import "context"

// Transaction is the explicit unit of work handed to every mutation. All
// relationship traversal goes through the parameterized queries below so the
// point at which state is read is always visible at the call site.
type Transaction interface {
	Snapshot() TransactionView

	CreateReport(Report) (Report, error)
	UpdateReport(id int64, mutator func(*Report) error) (Report, error)
	DeleteReport(id int64) error
	FindReport(id int64) (Report, bool)

	CreateGame(GameRecord) (GameRecord, error)
	UpdateGame(id int64, mutator func(*GameRecord) error) (GameRecord, error)
	ListGamesByReport(reportID int64) []GameRecord
	ListGamesByTeam(teamID int64) []GameRecord

	CreatePitch(PitchRecord) (PitchRecord, error)
	UpdatePitch(id int64, mutator func(*PitchRecord) error) (PitchRecord, error)
	ListPitchesByReport(reportID int64) []PitchRecord

	CreatePreselection(TeamPreselection) (TeamPreselection, error)
	UpdatePreselection(id int64, mutator func(*TeamPreselection) error) (TeamPreselection, error)
	DeletePreselection(id int64) error
	ListPreselectionsByReport(reportID int64) []TeamPreselection
	ListPreselectionsByTeam(teamID int64) []TeamPreselection

	CreateTeam(Team) (Team, error)
	UpdateTeam(id int64, mutator func(*Team) error) (Team, error)
	DeleteTeam(id int64) error
	FindTeam(id int64) (Team, bool)

	CreateMembership(AmalgamationMembership) (AmalgamationMembership, error)
	UpdateMembership(id int64, mutator func(*AmalgamationMembership) error) (AmalgamationMembership, error)
	DeleteMembership(id int64) error
	ListMembershipsByAddedTeam(teamID int64) []AmalgamationMembership
	ListMembershipsByUmbrella(teamID int64) []AmalgamationMembership

	CreateDisciplinaryAction(DisciplinaryAction) (DisciplinaryAction, error)
	UpdateDisciplinaryAction(id int64, mutator func(*DisciplinaryAction) error) (DisciplinaryAction, error)
	ListDisciplinaryActionsByTeam(teamID int64) []DisciplinaryAction

	CreateInjury(Injury) (Injury, error)
	UpdateInjury(id int64, mutator func(*Injury) error) (Injury, error)
	ListInjuriesByTeam(teamID int64) []Injury
}

// TransactionView provides read-only access to snapshot data for scans and rules.
// List results are ordered by ascending ID.
type TransactionView interface {
	ListReports() []Report
	FindReport(id int64) (Report, bool)
	ListGames() []GameRecord
	FindGame(id int64) (GameRecord, bool)
	ListPitches() []PitchRecord
	ListPreselections() []TeamPreselection
	ListTeams() []Team
	FindTeam(id int64) (Team, bool)
	ListMemberships() []AmalgamationMembership
	ListDisciplinaryActions() []DisciplinaryAction
	ListInjuries() []Injury
}

// PersistentStore is a minimal abstraction over durable backends. RunInTransaction
// executes fn with exclusive, atomic visibility relative to every other
// RunInTransaction caller and discards all of fn's effects when it fails.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetReport(id int64) (Report, bool)
	ListReports() []Report
	GetTeam(id int64) (Team, bool)
	ListTeams() []Team
}
