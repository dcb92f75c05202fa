// Package repository defines the MySQL data access layer.  The sentinel
// values below let higher layers distinguish failure scenarios without
// inspecting driver errors.  For example, ErrNotFound replaces
// sql.ErrNoRows for single row lookups, while ErrConflict signals that a
// guarded update matched no row because the data changed underneath it.
package repository

import (
	"database/sql"
	"errors"
	"strings"
)

// ErrNotFound is returned when a single row lookup matched nothing.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource bound to someone else, such as submitting payment for an order
// created by a different shopper session.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a guarded update cannot be performed
// because of conflicting state, such as decrementing an event's available
// seats below zero.  Handlers should translate this into HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned when creating a user whose email is taken.
var ErrEmailExists = errors.New("email already exists")

func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isDuplicateKey matches MySQL error 1062.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
