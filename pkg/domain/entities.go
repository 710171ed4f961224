// Package domain defines the persistent entities, the unit-of-work contract,
// and the rule evaluation primitives used by refereecore.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityReport identifies a referee report.
	EntityReport EntityType = "report"
	// EntityGame identifies a game recorded on a report.
	EntityGame EntityType = "game"
	// EntityPitch identifies a pitch recorded on a report.
	EntityPitch EntityType = "pitch"
	// EntityPreselection identifies a candidate team attached to a report.
	EntityPreselection EntityType = "team_preselection"
	// EntityTeam identifies a team.
	EntityTeam EntityType = "team"
	// EntityAmalgamationMembership identifies an umbrella/added team pairing.
	EntityAmalgamationMembership EntityType = "amalgamation_membership"
	// EntityDisciplinaryAction identifies a card or sanction recorded in a game.
	EntityDisciplinaryAction EntityType = "disciplinary_action"
	// EntityInjury identifies an injury recorded in a game.
	EntityInjury EntityType = "injury"
)

// Severity controls how rule violations affect commit behavior.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records. IDs come from a
// per-entity sequence, so a lower ID always means an older record.
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportKey is the exact triple under which at most one submitted report may exist.
type ReportKey struct {
	TournamentID int64 `json:"tournament_id"`
	RefereeID    int64 `json:"referee_id"`
	CodeID       int64 `json:"code_id"`
}

// Less orders keys by tournament, then referee, then code.
func (k ReportKey) Less(other ReportKey) bool {
	if k.TournamentID != other.TournamentID {
		return k.TournamentID < other.TournamentID
	}
	if k.RefereeID != other.RefereeID {
		return k.RefereeID < other.RefereeID
	}
	return k.CodeID < other.CodeID
}

// Report is one referee's submission for one tournament and code.
type Report struct {
	Base
	TournamentID int64      `json:"tournament_id"`
	RefereeID    int64      `json:"referee_id"`
	CodeID       int64      `json:"code_id"`
	Note         string     `json:"note"`
	Submitted    bool       `json:"submitted"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
}

// Key returns the grouping triple of the report.
func (r Report) Key() ReportKey {
	return ReportKey{TournamentID: r.TournamentID, RefereeID: r.RefereeID, CodeID: r.CodeID}
}

// HasNote reports whether the free-text note carries anything besides whitespace.
func (r Report) HasNote() bool {
	return strings.TrimSpace(r.Note) != ""
}

// GameRecord is a game refereed under a report.
type GameRecord struct {
	Base
	ReportID int64  `json:"report_id"`
	TeamAID  int64  `json:"team_a_id"`
	TeamBID  int64  `json:"team_b_id"`
	ScoreA   int    `json:"score_a"`
	ScoreB   int    `json:"score_b"`
	Category string `json:"category,omitempty"`
}

// PitchRecord describes a pitch inspected under a report.
type PitchRecord struct {
	Base
	ReportID int64  `json:"report_id"`
	Name     string `json:"name"`
	Surface  string `json:"surface,omitempty"`
}

// TeamPreselection marks a team as a candidate for a report.
type TeamPreselection struct {
	Base
	ReportID int64 `json:"report_id"`
	TeamID   int64 `json:"team_id"`
}

// Team is a club side; amalgamations are umbrella teams built from added teams.
type Team struct {
	Base
	Name         string `json:"name"`
	Amalgamation bool   `json:"amalgamation"`
}

// AmalgamationMembership places an added team under an umbrella team.
type AmalgamationMembership struct {
	Base
	UmbrellaTeamID int64 `json:"umbrella_team_id"`
	AddedTeamID    int64 `json:"added_team_id"`
}

// DisciplinaryAction records a card or sanction issued to a team's player during a game.
type DisciplinaryAction struct {
	Base
	GameID int64  `json:"game_id"`
	TeamID int64  `json:"team_id"`
	Player string `json:"player"`
	Card   string `json:"card"`
	Minute int    `json:"minute"`
}

// Injury records a player injury for one side of a game.
type Injury struct {
	Base
	GameID      int64  `json:"game_id"`
	TeamID      int64  `json:"team_id"`
	Player      string `json:"player"`
	Description string `json:"description,omitempty"`
	Minute      int    `json:"minute"`
}

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionMerge marks an operation that folded records into a survivor.
	ActionMerge Action = "merge"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
