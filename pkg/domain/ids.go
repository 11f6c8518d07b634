// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "idsync/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a UserID where another ID is expected.
type (
	UserID  uuid.UUID
	EventID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, store rows).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseEventID(s string) (EventID, error) {
	id, err := parseUUID(s, "event ID")
	return EventID(id), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	return id, nil
}

// String methods - for logging and debugging.

func (id UserID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id UserID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewUserID generates a fresh random user ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewEventID generates a fresh random event ID.
func NewEventID() EventID { return EventID(uuid.New()) }
