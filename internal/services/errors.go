// Package services defines the business logic for rooms, messages, and
// connection bookkeeping. This file centralizes the error taxonomy so that
// every failure a store can produce carries exactly one of these kinds.
//
// Internal code and tests distinguish kinds precisely with errors.Is; the
// websocket boundary maps every kind to a single opaque client-facing
// error, so none of these values ever reaches a client verbatim.
package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrValidation indicates malformed or rule-violating input, such as a
	// participant list that breaks the room-type invariants.
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization indicates the caller lacks rights over the target
	// room or message.
	ErrAuthorization = errors.New("not authorized")

	// ErrNotFound indicates the requested room or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique-name collision between rooms.
	ErrConflict = errors.New("name already taken")

	// ErrStorage indicates a backing-store failure unrelated to the
	// caller's input.
	ErrStorage = errors.New("storage failure")

	// ErrRegistration indicates connection bookkeeping failed.
	ErrRegistration = errors.New("connection registration failed")
)

// isUniqueViolation reports whether err is a unique-index violation from the
// backing store. The string check covers connections opened without GORM
// error translation.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
