package apperrors

import "errors"

var (
	ErrAggregateNotSupported = errors.New("aggregate planning not supported")
	ErrDangerousSQL          = errors.New("dangerous SQL keyword detected; only SELECT/WITH statements are permitted")
	ErrNotSelect             = errors.New("statement is not a SELECT/WITH query")
	ErrNoTableCandidate      = errors.New("no table candidate resolved for question")
)
