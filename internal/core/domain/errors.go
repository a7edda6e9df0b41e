package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("analysis not found")
	ErrUpstreamConfig = errors.New("upstream not configured")
	ErrUpstream       = errors.New("upstream failure")
	ErrSchemaParse    = errors.New("schema parse failure")
	ErrPersistence    = errors.New("persistence failure")
	ErrConflict       = errors.New("conflict")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTemporary      = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// MalformedReplyError is returned when an enrichment reply does not match the
// expected schema. It keeps the raw reply so it can be archived.
type MalformedReplyError struct {
	Raw    string
	Reason error
}

func (e *MalformedReplyError) Error() string {
	if e == nil || e.Reason == nil {
		return ErrSchemaParse.Error()
	}
	return fmt.Sprintf("%s: %v", ErrSchemaParse.Error(), e.Reason)
}

func (e *MalformedReplyError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Reason == nil {
		return []error{ErrSchemaParse}
	}
	return []error{ErrSchemaParse, e.Reason}
}

// FieldErrors collects per-field validation problems into one ErrValidation.
type FieldErrors []string

func (f *FieldErrors) Addf(format string, args ...any) {
	*f = append(*f, fmt.Sprintf(format, args...))
}

func (f FieldErrors) Err(operation string) error {
	if len(f) == 0 {
		return nil
	}
	return WrapError(ErrValidation, operation, errors.New(strings.Join(f, "; ")))
}
