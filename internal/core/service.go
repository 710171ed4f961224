package core

import (
	"context"
	"errors"
	"time"

	"refereecore/internal/infra/persistence/memory"
	"refereecore/pkg/domain"
)

// Service exposes the transactional operations of refereecore. Every
// operation runs through one instrumented wrapper that traces, times, audits
// and logs it.
type Service struct {
	store    PersistentStore
	clock    Clock
	clockSet bool
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	journal  MergeJournal
	lookback time.Duration
}

type nowSetter interface {
	SetNowFunc(func() time.Time)
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	svc := &Service{
		store:   store,
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		audit:   noopAudit{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	if setter, ok := store.(nowSetter); ok && svc.clockSet {
		setter.SetNowFunc(svc.clock.Now)
	}
	return svc
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

type auditTarget struct {
	entity domain.EntityType
	action domain.Action
}

var auditTargets = map[string]auditTarget{
	"create_team":                {domain.EntityTeam, domain.ActionCreate},
	"create_report":              {domain.EntityReport, domain.ActionCreate},
	"update_report":              {domain.EntityReport, domain.ActionUpdate},
	"submit_report":              {domain.EntityReport, domain.ActionUpdate},
	"add_preselection":           {domain.EntityPreselection, domain.ActionCreate},
	"create_game":                {domain.EntityGame, domain.ActionCreate},
	"create_pitch":               {domain.EntityPitch, domain.ActionCreate},
	"record_disciplinary_action": {domain.EntityDisciplinaryAction, domain.ActionCreate},
	"record_injury":              {domain.EntityInjury, domain.ActionCreate},
	"add_amalgamation_member":    {domain.EntityAmalgamationMembership, domain.ActionCreate},
	"merge_report_group":         {domain.EntityReport, domain.ActionMerge},
	"merge_teams":                {domain.EntityTeam, domain.ActionMerge},
}

// run executes fn as the named operation. fn returns the id of the entity it
// acted on for the audit trail.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (int64, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	id, err := fn(ctx)
	duration := time.Since(started)

	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.recordAudit(ctx, op, id, duration, err)
		s.logFailure(op, id, err)
		return err
	}
	s.recordAuditSuccess(ctx, op, id, duration)
	s.logger.Debug("operation committed", "operation", op, "entity_id", id, "duration", duration)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op string, id int64, duration time.Duration) {
	s.recordAudit(ctx, op, id, duration, nil)
}

func (s *Service) recordAudit(ctx context.Context, op string, id int64, duration time.Duration, err error) {
	target, ok := auditTargets[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    target.entity,
		Action:    target.action,
		EntityID:  id,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

func (s *Service) logFailure(op string, id int64, err error) {
	kind := domain.KindOf(err)
	args := []any{"operation", op, "entity_id", id, "kind", kind, "error", err}
	if kind == domain.ErrorKindStorage {
		s.logger.Error("operation failed", args...)
		return
	}
	s.logger.Warn("operation rejected", args...)
}

// CreateTeam persists a new team.
func (s *Service) CreateTeam(ctx context.Context, team domain.Team) (domain.Team, Result, error) {
	var created domain.Team
	var res Result
	err := s.run(ctx, "create_team", func(ctx context.Context) (int64, error) {
		if team.Name == "" {
			return 0, domain.ValidationError{Field: "name", Message: "team name is required"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateTeam(team)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// CreateReport persists a new report. A report created as submitted without a
// timestamp is stamped with the service clock.
func (s *Service) CreateReport(ctx context.Context, report domain.Report) (domain.Report, Result, error) {
	var created domain.Report
	var res Result
	err := s.run(ctx, "create_report", func(ctx context.Context) (int64, error) {
		if report.Submitted && report.SubmittedAt == nil {
			now := s.clock.Now().UTC()
			report.SubmittedAt = &now
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateReport(report)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateReport applies a partial update. Omitted patch fields are left alone;
// explicitly null fields are cleared. Setting submitted without a timestamp
// stamps the clock, and unsubmitting clears the timestamp unless the patch
// sets one.
func (s *Service) UpdateReport(ctx context.Context, id int64, patch domain.ReportPatch) (domain.Report, Result, error) {
	var updated domain.Report
	var res Result
	err := s.run(ctx, "update_report", func(ctx context.Context) (int64, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if patch.Empty() {
				current, ok := tx.FindReport(id)
				if !ok {
					return domain.NotFoundError{Entity: domain.EntityReport, ID: id}
				}
				updated = current
				return nil
			}
			updated, err = tx.UpdateReport(id, func(r *domain.Report) error {
				wasSubmitted := r.Submitted
				patch.Apply(r)
				if patch.SubmittedAt.IsSet() {
					return nil
				}
				switch {
				case r.Submitted && !wasSubmitted && r.SubmittedAt == nil:
					now := s.clock.Now().UTC()
					r.SubmittedAt = &now
				case !r.Submitted:
					r.SubmittedAt = nil
				}
				return nil
			})
			return err
		})
		return id, err
	})
	return updated, res, err
}

// SubmitReport marks a report submitted at the current clock time.
func (s *Service) SubmitReport(ctx context.Context, id int64) (domain.Report, Result, error) {
	var updated domain.Report
	var res Result
	err := s.run(ctx, "submit_report", func(ctx context.Context) (int64, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateReport(id, func(r *domain.Report) error {
				now := s.clock.Now().UTC()
				r.Submitted = true
				r.SubmittedAt = &now
				return nil
			})
			return err
		})
		return id, err
	})
	return updated, res, err
}

// AddPreselection attaches a candidate team to a report.
func (s *Service) AddPreselection(ctx context.Context, reportID, teamID int64) (domain.TeamPreselection, Result, error) {
	var created domain.TeamPreselection
	var res Result
	err := s.run(ctx, "add_preselection", func(ctx context.Context) (int64, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreatePreselection(domain.TeamPreselection{ReportID: reportID, TeamID: teamID})
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// CreateGame records a game under a report.
func (s *Service) CreateGame(ctx context.Context, game domain.GameRecord) (domain.GameRecord, Result, error) {
	var created domain.GameRecord
	var res Result
	err := s.run(ctx, "create_game", func(ctx context.Context) (int64, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateGame(game)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// CreatePitch records a pitch under a report.
func (s *Service) CreatePitch(ctx context.Context, pitch domain.PitchRecord) (domain.PitchRecord, Result, error) {
	var created domain.PitchRecord
	var res Result
	err := s.run(ctx, "create_pitch", func(ctx context.Context) (int64, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreatePitch(pitch)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// RecordDisciplinaryAction records a sanction issued during a game.
func (s *Service) RecordDisciplinaryAction(ctx context.Context, action domain.DisciplinaryAction) (domain.DisciplinaryAction, Result, error) {
	var created domain.DisciplinaryAction
	var res Result
	err := s.run(ctx, "record_disciplinary_action", func(ctx context.Context) (int64, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateDisciplinaryAction(action)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// RecordInjury records an injury during a game.
func (s *Service) RecordInjury(ctx context.Context, injury domain.Injury) (domain.Injury, Result, error) {
	var created domain.Injury
	var res Result
	err := s.run(ctx, "record_injury", func(ctx context.Context) (int64, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateInjury(injury)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// AddAmalgamationMember places addedID under the umbrella team and flags the
// umbrella as an amalgamation.
func (s *Service) AddAmalgamationMember(ctx context.Context, umbrellaID, addedID int64) (domain.AmalgamationMembership, Result, error) {
	var created domain.AmalgamationMembership
	var res Result
	err := s.run(ctx, "add_amalgamation_member", func(ctx context.Context) (int64, error) {
		if umbrellaID == addedID {
			return 0, domain.ValidationError{Field: "added_team_id", Message: "a team cannot be a member of itself"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateMembership(domain.AmalgamationMembership{UmbrellaTeamID: umbrellaID, AddedTeamID: addedID})
			if err != nil {
				return err
			}
			_, err = tx.UpdateTeam(umbrellaID, func(t *domain.Team) error {
				t.Amalgamation = true
				return nil
			})
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// GetReport returns a committed report.
func (s *Service) GetReport(id int64) (domain.Report, bool) { return s.store.GetReport(id) }

// GetTeam returns a committed team.
func (s *Service) GetTeam(id int64) (domain.Team, bool) { return s.store.GetTeam(id) }

// ListReports returns every committed report ordered by id.
func (s *Service) ListReports() []domain.Report { return s.store.ListReports() }

// ListTeams returns every committed team ordered by id.
func (s *Service) ListTeams() []domain.Team { return s.store.ListTeams() }

// IsRuleViolation reports whether err came from a blocking rule.
func IsRuleViolation(err error) bool {
	var violation domain.RuleViolationError
	return errors.As(err, &violation)
}
