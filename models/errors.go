package models

import "errors"

var (
	// ErrNoActiveVersion means storage holds no active algorithm version;
	// runs cannot start without one.
	ErrNoActiveVersion = errors.New("no active algorithm version")

	// ErrNotFound is returned by Get* lookups for missing rows.
	ErrNotFound = errors.New("not found")
)
