// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable indicates the backing store could not be reached.
var ErrUnavailable = errors.New("backend unavailable")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates rejected input. Wrap with details.
var ErrValidation = errors.New("validation failed")
