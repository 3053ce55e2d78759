// Package apperr defines the domain error taxonomy. Domain errors propagate
// unmodified to the transport layer; storage failures are wrapped into
// DatabaseError at the DAL boundary so storage-engine types never leak up.
package apperr

import (
	"errors"
	"fmt"
)

// UnauthorizedError means the actor could not be resolved to a valid
// permission context (missing membership, failed IP check, missing custom
// role). Distinct from Forbidden.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// Unauthorized builds an UnauthorizedError with a formatted message.
func Unauthorized(format string, args ...any) error {
	return &UnauthorizedError{Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError means the actor resolved successfully but the specific
// action/subject is not granted.
type ForbiddenError struct {
	Action  string
	Subject string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("permission denied: cannot %s %s", e.Action, e.Subject)
}

// Forbidden builds a ForbiddenError for the denied action/subject pair.
func Forbidden(action, subject string) error {
	return &ForbiddenError{Action: action, Subject: subject}
}

// NotFoundError means a referenced commit, checkpoint, folder, or project
// does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// NotFound builds a NotFoundError with a formatted message.
func NotFound(format string, args ...any) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// BadRequestError means malformed input to an operation, such as a commit
// change with neither version ID set.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// BadRequest builds a BadRequestError with a formatted message.
func BadRequest(format string, args ...any) error {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// DatabaseError wraps an underlying storage failure with the originating
// operation name. Always a defect or infra fault, never a domain decision.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Database wraps err with the originating operation name. Domain errors
// pass through untouched so validation failures keep their kind.
func Database(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return &DatabaseError{Op: op, Err: err}
}

// IsDomain reports whether err belongs to the domain taxonomy (as opposed
// to an infrastructure fault).
func IsDomain(err error) bool {
	var (
		ua *UnauthorizedError
		fo *ForbiddenError
		nf *NotFoundError
		br *BadRequestError
	)
	return errors.As(err, &ua) || errors.As(err, &fo) || errors.As(err, &nf) || errors.As(err, &br)
}

// IsUnauthorized reports whether err is an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var e *UnauthorizedError
	return errors.As(err, &e)
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsBadRequest reports whether err is a BadRequestError.
func IsBadRequest(err error) bool {
	var e *BadRequestError
	return errors.As(err, &e)
}
