package events

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/spec-kit/gatekeeper/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIdentityRegistered EventType = "identity_registered"
	EventIdentitySignedIn   EventType = "identity_signed_in"
	EventIdentityUpdated    EventType = "identity_updated"
	EventIdentityDeleted    EventType = "identity_deleted"
	EventAdmissionDenied    EventType = "admission_denied"
)

// AllTypes lists every event type in a stable order.
var AllTypes = []EventType{
	EventIdentityRegistered,
	EventIdentitySignedIn,
	EventIdentityUpdated,
	EventIdentityDeleted,
	EventAdmissionDenied,
}

// Actor encapsulates actor metadata for an event. Empty for anonymous callers.
type Actor struct {
	ID   string      `json:"id,omitempty"`
	Role domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SubjectID string    `json:"subject_id,omitempty"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps an event with a ULID and the current time.
func New(eventType EventType, subjectID string, actor Actor, payload any) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		SubjectID: subjectID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// IdentityRegisteredPayload payload.
type IdentityRegisteredPayload struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// IdentitySignedInPayload payload.
type IdentitySignedInPayload struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IdentityUpdatedPayload payload.
type IdentityUpdatedPayload struct {
	Fields []string `json:"fields"`
}

// IdentityDeletedPayload payload.
type IdentityDeletedPayload struct {
	Email string `json:"email"`
}

// AdmissionDeniedPayload payload.
type AdmissionDeniedPayload struct {
	Class  string `json:"class"`
	Reason string `json:"reason"`
	IP     string `json:"ip"`
	Method string `json:"method"`
	Path   string `json:"path"`
}
