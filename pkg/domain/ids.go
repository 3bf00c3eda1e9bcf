// Package domain holds typed identifiers and other primitives shared across
// bounded contexts. Identifiers are validated once at the trust boundary
// (HTTP path, JWT claims, broker payloads) and are carried as distinct types
// afterwards so a ClientID can never be passed where a UserID is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "brokerdesk/pkg/domain-errors"
)

// UserID identifies an authenticated principal (broker or admin). It is the
// sole addressing key for notifications.
type UserID uuid.UUID

// ClientID identifies a brokerage client that credit checks are run for.
type ClientID uuid.UUID

// ProfileID identifies the client profile a credit check was taken against.
type ProfileID uuid.UUID

// NotificationID identifies a persisted notification.
type NotificationID uuid.UUID

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id ClientID) String() string       { return uuid.UUID(id).String() }
func (id ProfileID) String() string      { return uuid.UUID(id).String() }
func (id NotificationID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id ClientID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ProfileID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id NotificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewNotificationID allocates a random notification id.
func NewNotificationID() NotificationID {
	return NotificationID(uuid.New())
}

// ParseUserID parses and validates a user id.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

// ParseClientID parses and validates a client id.
func ParseClientID(s string) (ClientID, error) {
	u, err := parseUUID(s, "client ID")
	return ClientID(u), err
}

// ParseProfileID parses and validates a profile id.
func ParseProfileID(s string) (ProfileID, error) {
	u, err := parseUUID(s, "profile ID")
	return ProfileID(u), err
}

// ParseNotificationID parses and validates a notification id.
func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID(s, "notification ID")
	return NotificationID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// Text marshalling keeps ids as canonical strings in JSON payloads and
// bus envelopes rather than 16-element byte arrays.

func (id UserID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }
func (id ClientID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id ProfileID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id NotificationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error         { return unmarshalUUID((*uuid.UUID)(id), b) }
func (id *ClientID) UnmarshalText(b []byte) error       { return unmarshalUUID((*uuid.UUID)(id), b) }
func (id *ProfileID) UnmarshalText(b []byte) error      { return unmarshalUUID((*uuid.UUID)(id), b) }
func (id *NotificationID) UnmarshalText(b []byte) error { return unmarshalUUID((*uuid.UUID)(id), b) }

func unmarshalUUID(dst *uuid.UUID, b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid uuid")
	}
	*dst = u
	return nil
}
