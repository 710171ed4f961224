package core

import (
	"errors"
	"strings"

	"refereecore/pkg/domain"
)

// Failure is the structured failure returned to whoever requested a merge.
type Failure struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func (f Failure) Error() string { return string(f.Kind) + ": " + f.Message }

// DescribeError classifies err and renders a message fit for an administrator.
// Blocking rule violations are spelled out one per clause.
func DescribeError(err error) Failure {
	if err == nil {
		return Failure{}
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		msgs := make([]string, 0, len(violation.Result.Violations))
		for _, v := range violation.Result.Violations {
			if v.Severity == domain.SeverityBlock {
				msgs = append(msgs, v.Message)
			}
		}
		return Failure{Kind: domain.ErrorKindStorage, Message: "commit refused: " + strings.Join(msgs, "; ")}
	}
	return Failure{Kind: domain.KindOf(err), Message: err.Error()}
}
