// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates the input failed validation.
var ErrValidation = errors.New("validation error")

// ErrTooManyAgents indicates a combinatorial computation was asked to cover
// more agents than its configured ceiling allows.
var ErrTooManyAgents = errors.New("too many agents")
