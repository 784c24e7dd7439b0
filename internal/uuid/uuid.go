// Package uuid generates and checks queued action identifiers.
package uuid

import (
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/cpltrack/fieldsync/internal/errors"
)

// New generates a new lowercase UUID v4 string.
func New() string {
	return uuid.New().String()
}

// Generator returns identifiers; the manager takes one so tests can pin ids.
type Generator func() string

// Sequence returns a Generator cycling through fixed ids, then falling back to New.
func Sequence(ids ...string) Generator {
	i := 0
	return func() string {
		if i < len(ids) {
			id := ids[i]
			i++
			return id
		}
		return New()
	}
}

// IsValid checks if a string is a canonical UUID v4 (dashed, variant 10xx).
func IsValid(s string) bool {
	if len(s) != 36 || strings.Count(s, "-") != 4 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// Validate returns an INVALID_INPUT error if s is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return apperrors.New(apperrors.ErrInvalid, "invalid action id: "+s)
	}
	return nil
}
