package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to callers of merge operations.
type ErrorKind string

const (
	// ErrorKindNotFound means a referenced report or team id does not resolve.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindValidation means the request itself is malformed.
	ErrorKindValidation ErrorKind = "validation_failure"
	// ErrorKindStorage means the serialized transaction could not be committed.
	ErrorKindStorage ErrorKind = "storage_failure"
)

// NotFoundError is returned when an entity id does not resolve inside a unit of work.
type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ValidationError reports a request that fails validation before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StorageError wraps failures of the storage engine itself.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	if e.Err == nil {
		return e.Op + " failed"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

// KindOf classifies err. Anything that is neither a lookup miss nor a
// validation failure counts as a storage failure, including rule violations
// that refused the commit.
func KindOf(err error) ErrorKind {
	var notFound NotFoundError
	if errors.As(err, &notFound) {
		return ErrorKindNotFound
	}
	var validation ValidationError
	if errors.As(err, &validation) {
		return ErrorKindValidation
	}
	return ErrorKindStorage
}
