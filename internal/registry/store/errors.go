package store

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error kinds surfaced by the service.
type Kind string

const (
	KindUnknown    Kind = "internal"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindAlreadyIs  Kind = "already_is"
	KindTaken      Kind = "taken"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation"
)

// NotFoundError indicates the referenced document is absent.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a malformed request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates the revision token changed between read and write,
// or that a create hit an existing id.
type ConflictError struct {
	Message string
	ID      string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.ID)
}

// ForbiddenError indicates a structural or semantic rule violation.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason == "" {
		return "forbidden"
	}
	return e.Reason
}

// Forbidden builds a ForbiddenError from a format string.
func Forbidden(format string, args ...any) error {
	return &ForbiddenError{Reason: fmt.Sprintf(format, args...)}
}

// AlreadyIsError indicates a change to the value the field already holds.
type AlreadyIsError struct {
	Field string
	Value any
}

func (e *AlreadyIsError) Error() string {
	return fmt.Sprintf("'%s' already is %v", e.Field, e.Value)
}

// TakenError indicates an alias label owned by another document.
type TakenError struct {
	Alias string
	Owner string
}

func (e *TakenError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("alias %q is taken", e.Alias)
	}
	return fmt.Sprintf("alias %q is taken by %s", e.Alias, e.Owner)
}

// KindOf classifies err.
func KindOf(err error) Kind {
	var (
		notFound   *NotFoundError
		forbidden  *ForbiddenError
		alreadyIs  *AlreadyIsError
		taken      *TakenError
		conflict   *ConflictError
		validation *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &forbidden):
		return KindForbidden
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &alreadyIs):
		return KindAlreadyIs
	case errors.As(err, &taken):
		return KindTaken
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &validation):
		return KindValidation
	}
	return KindUnknown
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }
