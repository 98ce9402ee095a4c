// Package room derives canonical room identifiers for two-party chats.
package room

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyParticipant is returned when a participant id is blank.
	ErrEmptyParticipant = errors.New("room: empty participant id")
	// ErrSameParticipant is returned when both participant ids are equal.
	ErrSameParticipant = errors.New("room: participants must be distinct")
)

// Prefix is the reserved prefix of every room id.
const Prefix = "room_"

// ID derives the canonical room id for two participants. The result is
// symmetric: ID(a, b) == ID(b, a). The two ids are sorted lexicographically
// before concatenation so both sides of a chat compute the same key.
func ID(a, b string) (string, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", ErrEmptyParticipant
	}
	if a == b {
		return "", fmt.Errorf("%w: %q", ErrSameParticipant, a)
	}
	if a > b {
		a, b = b, a
	}
	return Prefix + a + "_" + b, nil
}
