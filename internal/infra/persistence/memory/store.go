// Package memory provides an in-memory implementation of the persistence
// store used for tests and ephemeral environments. The durable sqlite and
// postgres stores embed it and snapshot its state after each commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"refereecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Report aliases domain.Report.
	Report = domain.Report
	// GameRecord aliases domain.GameRecord.
	GameRecord = domain.GameRecord
	// PitchRecord aliases domain.PitchRecord.
	PitchRecord = domain.PitchRecord
	// TeamPreselection aliases domain.TeamPreselection.
	TeamPreselection = domain.TeamPreselection
	// Team aliases domain.Team.
	Team = domain.Team
	// AmalgamationMembership aliases domain.AmalgamationMembership.
	AmalgamationMembership = domain.AmalgamationMembership
	// DisciplinaryAction aliases domain.DisciplinaryAction.
	DisciplinaryAction = domain.DisciplinaryAction
	// Injury aliases domain.Injury.
	Injury = domain.Injury
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	reports       map[int64]Report
	games         map[int64]GameRecord
	pitches       map[int64]PitchRecord
	preselections map[int64]TeamPreselection
	teams         map[int64]Team
	memberships   map[int64]AmalgamationMembership
	actions       map[int64]DisciplinaryAction
	injuries      map[int64]Injury
	sequences     map[domain.EntityType]int64
}

// Snapshot is the serialisable representation of the in-memory state.
type Snapshot struct {
	Reports       map[int64]Report                 `json:"reports"`
	Games         map[int64]GameRecord             `json:"games"`
	Pitches       map[int64]PitchRecord            `json:"pitches"`
	Preselections map[int64]TeamPreselection       `json:"preselections"`
	Teams         map[int64]Team                   `json:"teams"`
	Memberships   map[int64]AmalgamationMembership `json:"memberships"`
	Actions       map[int64]DisciplinaryAction     `json:"disciplinary_actions"`
	Injuries      map[int64]Injury                 `json:"injuries"`
	Sequences     map[domain.EntityType]int64      `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		reports:       map[int64]Report{},
		games:         map[int64]GameRecord{},
		pitches:       map[int64]PitchRecord{},
		preselections: map[int64]TeamPreselection{},
		teams:         map[int64]Team{},
		memberships:   map[int64]AmalgamationMembership{},
		actions:       map[int64]DisciplinaryAction{},
		injuries:      map[int64]Injury{},
		sequences:     map[domain.EntityType]int64{},
	}
}

func copyMap[K comparable, V any](in map[K]V, clone func(V) V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}
	return out
}

func same[V any](v V) V { return v }

func cloneReport(r Report) Report {
	cp := r
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		cp.SubmittedAt = &t
	}
	return cp
}

func (s memoryState) clone() memoryState {
	return memoryState{
		reports:       copyMap(s.reports, cloneReport),
		games:         copyMap(s.games, same[GameRecord]),
		pitches:       copyMap(s.pitches, same[PitchRecord]),
		preselections: copyMap(s.preselections, same[TeamPreselection]),
		teams:         copyMap(s.teams, same[Team]),
		memberships:   copyMap(s.memberships, same[AmalgamationMembership]),
		actions:       copyMap(s.actions, same[DisciplinaryAction]),
		injuries:      copyMap(s.injuries, same[Injury]),
		sequences:     copyMap(s.sequences, same[int64]),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cp := state.clone()
	return Snapshot{
		Reports:       cp.reports,
		Games:         cp.games,
		Pitches:       cp.pitches,
		Preselections: cp.preselections,
		Teams:         cp.teams,
		Memberships:   cp.memberships,
		Actions:       cp.actions,
		Injuries:      cp.injuries,
		Sequences:     cp.sequences,
	}
}

func orEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	st := memoryState{
		reports:       orEmpty(s.Reports),
		games:         orEmpty(s.Games),
		pitches:       orEmpty(s.Pitches),
		preselections: orEmpty(s.Preselections),
		teams:         orEmpty(s.Teams),
		memberships:   orEmpty(s.Memberships),
		actions:       orEmpty(s.Actions),
		injuries:      orEmpty(s.Injuries),
		sequences:     orEmpty(s.Sequences),
	}.clone()
	reconcileSequences(&st)
	return st
}

// reconcileSequences makes sure no sequence lags behind an id already present,
// which protects snapshots written before sequences were persisted.
func reconcileSequences(st *memoryState) {
	bump := func(entity domain.EntityType, id int64) {
		if st.sequences[entity] < id {
			st.sequences[entity] = id
		}
	}
	for id := range st.reports {
		bump(domain.EntityReport, id)
	}
	for id := range st.games {
		bump(domain.EntityGame, id)
	}
	for id := range st.pitches {
		bump(domain.EntityPitch, id)
	}
	for id := range st.preselections {
		bump(domain.EntityPreselection, id)
	}
	for id := range st.teams {
		bump(domain.EntityTeam, id)
	}
	for id := range st.memberships {
		bump(domain.EntityAmalgamationMembership, id)
	}
	for id := range st.actions {
		bump(domain.EntityDisciplinaryAction, id)
	}
	for id := range st.injuries {
		bump(domain.EntityInjury, id)
	}
}

func sortedValues[V any](m map[int64]V, filter func(V) bool) []V {
	ids := make([]int64, 0, len(m))
	for id, v := range m {
		if filter == nil || filter(v) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// Store provides an in-memory transactional store for the domain.
type Store struct {
	mu       sync.RWMutex
	state    memoryState
	engine   *RulesEngine
	nowFn    func() time.Time
	onCommit CommitHook
}

// CommitHook receives the state a transaction is about to commit. Returning an
// error aborts the commit and leaves the live state untouched.
type CommitHook func(ctx context.Context, next Snapshot) error

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock stamped onto created and updated records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// SetCommitHook installs the hook durable backends use to write a snapshot
// before the in-memory state is swapped.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = hook
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Only one transaction runs at a time; the copy replaces the live state after
// fn succeeds, no blocking rule fires and the commit hook (if any) accepted the
// new state. A panic inside fn is reported as a
// storage error and leaves the live state untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = domain.StorageError{Op: "run transaction", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.onCommit != nil {
		if err := s.onCommit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, domain.StorageError{Op: "commit snapshot", Err: err}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

// GetReport returns a committed report by id.
func (s *Store) GetReport(id int64) (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.reports[id]
	if !ok {
		return Report{}, false
	}
	return cloneReport(r), true
}

// ListReports returns every committed report ordered by id.
func (s *Store) ListReports() []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListReports()
}

// GetTeam returns a committed team by id.
func (s *Store) GetTeam(id int64) (Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.teams[id]
	return t, ok
}

// ListTeams returns every committed team ordered by id.
func (s *Store) ListTeams() []Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.teams, nil)
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListReports() []Report {
	out := sortedValues(v.state.reports, nil)
	for i := range out {
		out[i] = cloneReport(out[i])
	}
	return out
}

func (v transactionView) FindReport(id int64) (Report, bool) {
	r, ok := v.state.reports[id]
	if !ok {
		return Report{}, false
	}
	return cloneReport(r), true
}

func (v transactionView) ListGames() []GameRecord { return sortedValues(v.state.games, nil) }

func (v transactionView) FindGame(id int64) (GameRecord, bool) {
	g, ok := v.state.games[id]
	return g, ok
}

func (v transactionView) ListPitches() []PitchRecord { return sortedValues(v.state.pitches, nil) }

func (v transactionView) ListPreselections() []TeamPreselection {
	return sortedValues(v.state.preselections, nil)
}

func (v transactionView) ListTeams() []Team { return sortedValues(v.state.teams, nil) }

func (v transactionView) FindTeam(id int64) (Team, bool) {
	t, ok := v.state.teams[id]
	return t, ok
}

func (v transactionView) ListMemberships() []AmalgamationMembership {
	return sortedValues(v.state.memberships, nil)
}

func (v transactionView) ListDisciplinaryActions() []DisciplinaryAction {
	return sortedValues(v.state.actions, nil)
}

func (v transactionView) ListInjuries() []Injury { return sortedValues(v.state.injuries, nil) }
