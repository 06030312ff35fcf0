// Package shared holds the types every domain package depends on: the error
// taxonomy, domain events and value objects. It imports nothing outside the
// standard library.
package shared

import (
	"errors"
	"fmt"
)

// Kinds. Every DomainError carries one, and the Is* helpers below classify by
// kind so callers never compare messages.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError names where a failure happened (Domain.Op), what kind it is and,
// for wrapped failures, the underlying cause.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap prefers the cause so errors.As reaches driver errors.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches the kind as well as the cause.
func (e *DomainError) Is(target error) bool {
	return e.Kind != nil && errors.Is(e.Kind, target) ||
		e.Err != nil && errors.Is(e.Err, target)
}

func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError is NewDomainError with a cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Identity domain errors
var (
	ErrIdentityNotFound   = NewDomainError("identity", "Find", ErrNotFound, "identity not found")
	ErrInvalidCredentials = NewDomainError("identity", "Authenticate", ErrUnauthorized, "invalid credentials")
	ErrRoleMismatch       = NewDomainError("identity", "Authenticate", ErrForbidden, "identity role does not match the entry point")
	ErrNotAuthenticated   = NewDomainError("identity", "Resolve", ErrUnauthorized, "no authenticated identity")
	ErrUnauthorizedActor  = NewDomainError("identity", "Authorize", ErrUnauthorized, "actor is not allowed to perform this action")
	ErrDuplicateAccount   = NewDomainError("identity", "Register", ErrAlreadyExists, "account already exists")
	ErrInvalidRole        = NewDomainError("identity", "Validate", ErrInvalidInput, "invalid role")
)

// Programme domain errors
var (
	ErrProgrammeNotFound = NewDomainError("programme", "Find", ErrNotFound, "programme not found")
)

// Enrollment domain errors
var (
	ErrEnrollmentNotFound  = NewDomainError("enrollment", "Find", ErrNotFound, "enrollment not found")
	ErrAlreadyEnrolled     = NewDomainError("enrollment", "Create", ErrAlreadyExists, "learner already holds an active enrollment for this programme")
	ErrEnrollmentCancelled = NewDomainError("enrollment", "CheckStatus", ErrInvalidState, "enrollment is cancelled")
)

// Payment domain errors
var (
	ErrNoPaymentAttempt   = NewDomainError("payment", "FindAttempt", ErrNotFound, "no payment attempt in progress")
	ErrVerificationFailed = NewDomainError("payment", "Confirm", ErrInvalidState, "payment verification failed")
	ErrAlreadyPaid        = NewDomainError("payment", "SubmitDetails", ErrInvalidState, "enrollment is already paid")
	ErrInvalidPaymentStep = NewDomainError("payment", "Transition", ErrStateTransition, "payment attempt is not in the expected step")
)

// Activity domain errors
var (
	ErrPaymentRequired = NewDomainError("activity", "Gate", ErrForbidden, "payment required before learning activities are unlocked")
	ErrNoUnitsDefined  = NewDomainError("activity", "CurrentUnit", ErrNotFound, "no weekly units defined for programme")
	ErrNoActiveWeek    = NewDomainError("activity", "CurrentUnit", ErrNotFound, "no weekly unit is in session")
	ErrUnitNotFound    = NewDomainError("activity", "FindUnit", ErrNotFound, "weekly unit not found")
	ErrUnknownActivity = NewDomainError("activity", "Record", ErrNotFound, "activity key is not part of the current unit")
)

// Result domain errors
var (
	ErrResultNotFound  = NewDomainError("result", "Find", ErrNotFound, "result record not found")
	ErrNotReady        = NewDomainError("result", "Approve", ErrInvalidState, "result record is not ready for approval")
	ErrNotApproved     = NewDomainError("result", "Submit", ErrInvalidState, "result record is not approved")
	ErrResultSubmitted = NewDomainError("result", "Approve", ErrStateTransition, "result record was already submitted")
)

// External service errors
var (
	ErrCertificationUnavailable = NewDomainError("certification", "Submit", ErrServiceUnavailable, "certification endpoint is unavailable")
	ErrCertificationRejected    = NewDomainError("certification", "Submit", ErrExternalService, "certification endpoint rejected the record")
	ErrEvidenceStoreFailed      = NewDomainError("evidence", "Store", ErrExternalService, "evidence storage failed")
	ErrNotificationFailed       = NewDomainError("notification", "Send", ErrExternalService, "failed to send notification")
)

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsValidation reports malformed input. It never succeeds on retry.
func IsValidation(err error) bool {
	return isAny(err, ErrValidation, ErrInvalidInput, ErrEmptyValue,
		ErrNegativeValue, ErrValueOutOfRange, ErrInvalidFormat)
}

// IsAuthorization reports failures that end the attempted action. A missing
// payment is forbidden but belongs to the state guards.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) && !errors.Is(err, ErrPaymentRequired)
}

// IsStateGuard reports expected conditions after which the actor is
// re-routed, for instance to the payment step.
func IsStateGuard(err error) bool {
	return isAny(err, ErrAlreadyEnrolled, ErrPaymentRequired, ErrNotReady,
		ErrNotApproved, ErrAlreadyPaid, ErrVerificationFailed,
		ErrNoPaymentAttempt, ErrResultSubmitted)
}

func IsExternalService(err error) bool {
	return isAny(err, ErrExternalService, ErrServiceUnavailable, ErrRateLimited)
}

// IsRetryable reports transient failures.
func IsRetryable(err error) bool {
	return isAny(err, ErrServiceUnavailable, ErrRateLimited, ErrConcurrentModification)
}
