// Package uuidv7 issues and validates the time-ordered identifiers used for
// stored resources.
package uuidv7

import "github.com/google/uuid"

// New returns a UUIDv7 value (time-ordered) or panics if generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a string representation of a UUIDv7.
func NewString() string {
	return New().String()
}

// Valid reports whether id is a canonical UUIDv7 string. Resource ids arrive
// from URLs, so anything else is rejected before touching storage.
func Valid(id string) bool {
	if len(id) != 36 {
		return false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed.Version() == 7 && parsed.String() == id
}
