package store

import "errors"

// ErrNotFound is returned when a requested execution or checkpoint does not
// exist in the backend.
var ErrNotFound = errors.New("not found")
