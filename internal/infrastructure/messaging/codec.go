package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// envelope carries a JSON-encoded event between instances.
type envelope struct {
	InstanceID string           `json:"instance_id"`
	Type       shared.EventType `json:"type"`
	Data       json.RawMessage  `json:"data"`
}

type decoder func([]byte) (shared.Event, error)

func decodeAs[T shared.Event]() decoder {
	return func(data []byte) (shared.Event, error) {
		var e T
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
}

// decoders restores concrete event types so subscribers can type-assert
// remote events the same way as local ones.
var decoders = map[shared.EventType]decoder{
	shared.EventIdentityRegistered:      decodeAs[shared.IdentityRegisteredEvent](),
	shared.EventIdentityAuthenticated:   decodeAs[shared.IdentityAuthenticatedEvent](),
	shared.EventIdentityRoleMismatch:    decodeAs[shared.RoleMismatchEvent](),
	shared.EventEnrollmentCreated:       decodeAs[shared.EnrollmentCreatedEvent](),
	shared.EventEnrollmentCancelled:     decodeAs[shared.EnrollmentCancelledEvent](),
	shared.EventPaymentDetailsSubmitted: decodeAs[shared.PaymentDetailsSubmittedEvent](),
	shared.EventPaymentConfirmed:        decodeAs[shared.PaymentConfirmedEvent](),
	shared.EventPaymentFailed:           decodeAs[shared.PaymentFailedEvent](),
	shared.EventActivityCompleted:       decodeAs[shared.ActivityCompletedEvent](),
	shared.EventResultReady:             decodeAs[shared.ResultTransitionEvent](),
	shared.EventResultApproved:          decodeAs[shared.ResultTransitionEvent](),
	shared.EventResultSubmitted:         decodeAs[shared.ResultTransitionEvent](),
}

// Encode wraps an event for transport.
func Encode(instanceID string, event shared.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return json.Marshal(envelope{InstanceID: instanceID, Type: event.EventType(), Data: data})
}

// Decode restores an event and the ID of the instance that published it.
func Decode(raw []byte) (shared.Event, string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", fmt.Errorf("unmarshal envelope: %w", err)
	}
	dec, ok := decoders[env.Type]
	if !ok {
		return nil, env.InstanceID, fmt.Errorf("%w: %s", ErrEventNotSupported, env.Type)
	}
	event, err := dec(env.Data)
	if err != nil {
		return nil, env.InstanceID, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return event, env.InstanceID, nil
}
