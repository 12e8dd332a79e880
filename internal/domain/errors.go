// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates an operation clashed with concurrent state, such as
// starting a research run on a group that already has one in progress.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates the request was rejected by input validation.
var ErrValidation = errors.New("validation")
