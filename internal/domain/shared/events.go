// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event is published after the state change it
// describes has been committed.
const (
	// Identity events
	EventIdentityRegistered    EventType = "identity.registered"
	EventIdentityAuthenticated EventType = "identity.authenticated"
	EventIdentityRoleMismatch  EventType = "identity.role_mismatch"

	// Enrollment events
	EventEnrollmentCreated   EventType = "enrollment.created"
	EventEnrollmentCancelled EventType = "enrollment.cancelled"

	// Payment events
	EventPaymentDetailsSubmitted EventType = "payment.details_submitted"
	EventPaymentConfirmed        EventType = "payment.confirmed"
	EventPaymentFailed           EventType = "payment.failed"

	// Activity events
	EventActivityCompleted EventType = "activity.completed"

	// Result events
	EventResultReady     EventType = "result.ready"
	EventResultApproved  EventType = "result.approved"
	EventResultSubmitted EventType = "result.submitted"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Identity Events
// ═══════════════════════════════════════════════════════════════════════════

// IdentityRegisteredEvent is emitted when a new account is created.
type IdentityRegisteredEvent struct {
	BaseEvent
	Role        string `json:"role"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Payload implements Event interface.
func (e IdentityRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"role":         e.Role,
		"email":        e.Email,
		"display_name": e.DisplayName,
	}
}

// NewIdentityRegisteredEvent creates a new IdentityRegisteredEvent.
func NewIdentityRegisteredEvent(identityID, role, email, displayName string) IdentityRegisteredEvent {
	return IdentityRegisteredEvent{
		BaseEvent:   NewBaseEvent(EventIdentityRegistered, identityID),
		Role:        role,
		Email:       email,
		DisplayName: displayName,
	}
}

// IdentityAuthenticatedEvent is emitted when a session is granted.
type IdentityAuthenticatedEvent struct {
	BaseEvent
	Role string `json:"role"`
}

// Payload implements Event interface.
func (e IdentityAuthenticatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"role": e.Role,
	}
}

// NewIdentityAuthenticatedEvent creates a new IdentityAuthenticatedEvent.
func NewIdentityAuthenticatedEvent(identityID, role string) IdentityAuthenticatedEvent {
	return IdentityAuthenticatedEvent{
		BaseEvent: NewBaseEvent(EventIdentityAuthenticated, identityID),
		Role:      role,
	}
}

// RoleMismatchEvent is emitted when valid credentials were presented at
// the wrong entry point and the session was revoked.
type RoleMismatchEvent struct {
	BaseEvent
	StoredRole   string `json:"stored_role"`
	IntendedRole string `json:"intended_role"`
}

// Payload implements Event interface.
func (e RoleMismatchEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"stored_role":   e.StoredRole,
		"intended_role": e.IntendedRole,
	}
}

// NewRoleMismatchEvent creates a new RoleMismatchEvent.
func NewRoleMismatchEvent(identityID, storedRole, intendedRole string) RoleMismatchEvent {
	return RoleMismatchEvent{
		BaseEvent:    NewBaseEvent(EventIdentityRoleMismatch, identityID),
		StoredRole:   storedRole,
		IntendedRole: intendedRole,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrollment Events
// ═══════════════════════════════════════════════════════════════════════════

// EnrollmentCreatedEvent is emitted when a learner enrolls in a programme.
type EnrollmentCreatedEvent struct {
	BaseEvent
	LearnerID    string `json:"learner_id"`
	ProgrammeID  string `json:"programme_id"`
	CreditsTotal int    `json:"credits_total"`
}

// Payload implements Event interface.
func (e EnrollmentCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":    e.LearnerID,
		"programme_id":  e.ProgrammeID,
		"credits_total": e.CreditsTotal,
	}
}

// NewEnrollmentCreatedEvent creates a new EnrollmentCreatedEvent.
func NewEnrollmentCreatedEvent(enrollmentID, learnerID, programmeID string, creditsTotal int) EnrollmentCreatedEvent {
	return EnrollmentCreatedEvent{
		BaseEvent:    NewBaseEvent(EventEnrollmentCreated, enrollmentID),
		LearnerID:    learnerID,
		ProgrammeID:  programmeID,
		CreditsTotal: creditsTotal,
	}
}

// EnrollmentCancelledEvent is emitted when an enrollment is cancelled.
type EnrollmentCancelledEvent struct {
	BaseEvent
	LearnerID   string `json:"learner_id"`
	ProgrammeID string `json:"programme_id"`
}

// Payload implements Event interface.
func (e EnrollmentCancelledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":   e.LearnerID,
		"programme_id": e.ProgrammeID,
	}
}

// NewEnrollmentCancelledEvent creates a new EnrollmentCancelledEvent.
func NewEnrollmentCancelledEvent(enrollmentID, learnerID, programmeID string) EnrollmentCancelledEvent {
	return EnrollmentCancelledEvent{
		BaseEvent:   NewBaseEvent(EventEnrollmentCancelled, enrollmentID),
		LearnerID:   learnerID,
		ProgrammeID: programmeID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Payment Events
// ═══════════════════════════════════════════════════════════════════════════

// PaymentDetailsSubmittedEvent is emitted when an attempt moves to verification.
type PaymentDetailsSubmittedEvent struct {
	BaseEvent
	Method string `json:"method"`
}

// Payload implements Event interface.
func (e PaymentDetailsSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"method": e.Method,
	}
}

// NewPaymentDetailsSubmittedEvent creates a new PaymentDetailsSubmittedEvent.
func NewPaymentDetailsSubmittedEvent(enrollmentID, method string) PaymentDetailsSubmittedEvent {
	return PaymentDetailsSubmittedEvent{
		BaseEvent: NewBaseEvent(EventPaymentDetailsSubmitted, enrollmentID),
		Method:    method,
	}
}

// PaymentConfirmedEvent is emitted exactly once per enrollment, when its
// payment status flips to paid.
type PaymentConfirmedEvent struct {
	BaseEvent
	LearnerID   string `json:"learner_id"`
	ProgrammeID string `json:"programme_id"`
	Method      string `json:"method"`
}

// Payload implements Event interface.
func (e PaymentConfirmedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":   e.LearnerID,
		"programme_id": e.ProgrammeID,
		"method":       e.Method,
	}
}

// NewPaymentConfirmedEvent creates a new PaymentConfirmedEvent.
func NewPaymentConfirmedEvent(enrollmentID, learnerID, programmeID, method string) PaymentConfirmedEvent {
	return PaymentConfirmedEvent{
		BaseEvent:   NewBaseEvent(EventPaymentConfirmed, enrollmentID),
		LearnerID:   learnerID,
		ProgrammeID: programmeID,
		Method:      method,
	}
}

// PaymentFailedEvent is emitted when verification of an attempt fails.
type PaymentFailedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e PaymentFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"reason": e.Reason,
	}
}

// NewPaymentFailedEvent creates a new PaymentFailedEvent.
func NewPaymentFailedEvent(enrollmentID, reason string) PaymentFailedEvent {
	return PaymentFailedEvent{
		BaseEvent: NewBaseEvent(EventPaymentFailed, enrollmentID),
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Activity Events
// ═══════════════════════════════════════════════════════════════════════════

// ActivityCompletedEvent is emitted after a completion is recorded.
type ActivityCompletedEvent struct {
	BaseEvent
	ActivityKey string `json:"activity_key"`
	UnitID      string `json:"unit_id"`
	HasEvidence bool   `json:"has_evidence"`
}

// Payload implements Event interface.
func (e ActivityCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"activity_key": e.ActivityKey,
		"unit_id":      e.UnitID,
		"has_evidence": e.HasEvidence,
	}
}

// NewActivityCompletedEvent creates a new ActivityCompletedEvent.
func NewActivityCompletedEvent(enrollmentID, unitID, activityKey string, hasEvidence bool) ActivityCompletedEvent {
	return ActivityCompletedEvent{
		BaseEvent:   NewBaseEvent(EventActivityCompleted, enrollmentID),
		ActivityKey: activityKey,
		UnitID:      unitID,
		HasEvidence: hasEvidence,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Result Events
// ═══════════════════════════════════════════════════════════════════════════

// ResultTransitionEvent is emitted for every forward transition of a result record.
type ResultTransitionEvent struct {
	BaseEvent
	EnrollmentID      string `json:"enrollment_id"`
	Status            string `json:"status"`
	ActorID           string `json:"actor_id,omitempty"`
	AcknowledgementID string `json:"acknowledgement_id,omitempty"`
}

// Payload implements Event interface.
func (e ResultTransitionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id":      e.EnrollmentID,
		"status":             e.Status,
		"actor_id":           e.ActorID,
		"acknowledgement_id": e.AcknowledgementID,
	}
}

// NewResultReadyEvent creates a result.ready event.
func NewResultReadyEvent(resultID, enrollmentID string) ResultTransitionEvent {
	return ResultTransitionEvent{
		BaseEvent:    NewBaseEvent(EventResultReady, resultID),
		EnrollmentID: enrollmentID,
		Status:       "ready",
	}
}

// NewResultApprovedEvent creates a result.approved event.
func NewResultApprovedEvent(resultID, enrollmentID, approverID string) ResultTransitionEvent {
	return ResultTransitionEvent{
		BaseEvent:    NewBaseEvent(EventResultApproved, resultID),
		EnrollmentID: enrollmentID,
		Status:       "approved",
		ActorID:      approverID,
	}
}

// NewResultSubmittedEvent creates a result.submitted event.
func NewResultSubmittedEvent(resultID, enrollmentID, acknowledgementID string) ResultTransitionEvent {
	return ResultTransitionEvent{
		BaseEvent:         NewBaseEvent(EventResultSubmitted, resultID),
		EnrollmentID:      enrollmentID,
		Status:            "submitted",
		AcknowledgementID: acknowledgementID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
