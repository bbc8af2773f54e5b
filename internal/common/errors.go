// Package common defines sentinel errors shared by every medsync layer.
// Callers should match them with errors.Is.
package common

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNotFound = errors.New("not found")
	ErrStore    = errors.New("store failure")
	ErrNotBound = errors.New("entity not bound to unit of work")
	ErrClosed   = errors.New("closed")

	// Remote errors.
	ErrNetwork            = errors.New("network error")
	ErrUnavailable        = errors.New("server unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRejected           = errors.New("rejected by server")
	ErrDeleteNotConfirmed = errors.New("delete not confirmed by server")

	// ErrValidation is returned before any remote call when a required
	// identifying field is missing.
	ErrValidation = errors.New("validation failed")
)

// ValidationError names the entity and the missing field.
type ValidationError struct {
	Entity string
	Ref    string
	Field  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: missing %s", e.Entity, e.Ref, e.Field)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Missing builds a ValidationError.
func Missing(entity, ref, field string) error {
	return &ValidationError{Entity: entity, Ref: ref, Field: field}
}
