package models

import (
	"strings"
	"time"

	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
)

// Type is the domain event kind a notification was raised for.
type Type string

const (
	TypeCreditCheckCompleted  Type = "credit_check_completed"
	TypeCreditCheckFailed     Type = "credit_check_failed"
	TypeDocumentStatusChanged Type = "document_status_changed"
	TypeProfileUpdated        Type = "profile_updated"
	TypeClientAssigned        Type = "client_assigned"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeCreditCheckCompleted, TypeCreditCheckFailed, TypeDocumentStatusChanged,
		TypeProfileUpdated, TypeClientAssigned:
		return true
	}
	return false
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Notification is addressed to exactly one recipient.
// Invariant: ReadAt != nil iff Read.
type Notification struct {
	ID          id.NotificationID `json:"id"`
	RecipientID id.UserID         `json:"recipient_id"`
	Type        Type              `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Link        string            `json:"link,omitempty"`
	Read        bool              `json:"read"`
	CreatedAt   time.Time         `json:"created_at"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
}

// DomainEvent is a change worth telling one user about.
type DomainEvent struct {
	Type        Type
	RecipientID id.UserID
	Title       string
	Message     string
	Link        string
}

func (e DomainEvent) Validate() error {
	if e.RecipientID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "recipient_id is required")
	}
	if !e.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown notification type: "+string(e.Type))
	}
	if strings.TrimSpace(e.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	return nil
}

// NewNotification builds an unread notification for a domain event.
func NewNotification(nid id.NotificationID, e DomainEvent, now time.Time) (*Notification, error) {
	if nid.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "notification id must not be nil")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &Notification{
		ID:          nid,
		RecipientID: e.RecipientID,
		Type:        e.Type,
		Title:       strings.TrimSpace(e.Title),
		Message:     e.Message,
		Link:        e.Link,
		CreatedAt:   now,
	}, nil
}

// MarkRead reports whether the read state changed.
func (n *Notification) MarkRead(now time.Time) bool {
	if n.Read {
		return false
	}
	n.Read = true
	t := now
	n.ReadAt = &t
	return true
}

// MarkUnread reports whether the read state changed.
func (n *Notification) MarkUnread() bool {
	if !n.Read {
		return false
	}
	n.Read = false
	n.ReadAt = nil
	return true
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	cp := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		cp.ReadAt = &t
	}
	return &cp
}

// NormalizeLimit clamps a list limit into [1, MaxListLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
