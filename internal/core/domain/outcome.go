package domain

import (
	"context"
	"errors"
)

// Outcome labels shared by enrichment runs, chat fallbacks and worker metrics.
const (
	OutcomeSuccess     = "success"
	OutcomeConfig      = "upstream_config"
	OutcomeUpstream    = "upstream_error"
	OutcomeSchema      = "schema_parse"
	OutcomePersistence = "persistence_error"
	OutcomeNotFound    = "not_found"
	OutcomeTimeout     = "timeout"
	OutcomeUnknown     = "error"
)

// OutcomeOf names the failure class of one phase-2 run or chat call.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case IsKind(err, ErrUpstreamConfig):
		return OutcomeConfig
	case IsKind(err, ErrSchemaParse):
		return OutcomeSchema
	case IsKind(err, ErrUpstream):
		return OutcomeUpstream
	case IsKind(err, ErrNotFound):
		return OutcomeNotFound
	case IsKind(err, ErrPersistence):
		return OutcomePersistence
	default:
		return OutcomeUnknown
	}
}
