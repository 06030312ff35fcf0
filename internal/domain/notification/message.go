// Package notification содержит модель уведомлений слушателям.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Type - тип уведомления.
type Type string

const (
	// TypePaymentConfirmed - оплата подтверждена, обучение открыто.
	// "Payment received: <программа> is now unlocked"
	TypePaymentConfirmed Type = "payment_confirmed"

	// TypeResultSubmitted - результат модуля передан на сертификацию.
	// "Your result for <модуль> was submitted (ref ABC-123)"
	TypeResultSubmitted Type = "result_submitted"
)

// IsValid проверяет тип уведомления.
func (t Type) IsValid() bool {
	return t == TypePaymentConfirmed || t == TypeResultSubmitted
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE
// ══════════════════════════════════════════════════════════════════════════════

// Message - письмо слушателю.
type Message struct {
	Type          Type
	RecipientID   string
	RecipientName string
	To            string
	Subject       string
	Body          string
}

// Validate проверяет, что письмо можно отправить.
func (m Message) Validate() error {
	if !m.Type.IsValid() {
		return ErrInvalidType
	}
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	if strings.TrimSpace(m.Subject) == "" {
		return ErrEmptySubject
	}
	return nil
}

// NewPaymentConfirmed собирает письмо об успешной оплате.
func NewPaymentConfirmed(recipientID, name, email, programmeName string) Message {
	return Message{
		Type:          TypePaymentConfirmed,
		RecipientID:   recipientID,
		RecipientName: name,
		To:            email,
		Subject:       fmt.Sprintf("Payment received: %s is now unlocked", programmeName),
		Body: fmt.Sprintf("Hi %s,\n\nYour payment for %s has been confirmed. "+
			"All weekly activities are now available.\n", name, programmeName),
	}
}

// NewResultSubmitted собирает письмо о передаче результата.
func NewResultSubmitted(recipientID, name, email, moduleName, acknowledgementID string) Message {
	return Message{
		Type:          TypeResultSubmitted,
		RecipientID:   recipientID,
		RecipientName: name,
		To:            email,
		Subject:       fmt.Sprintf("Your result for %s was submitted", moduleName),
		Body: fmt.Sprintf("Hi %s,\n\nYour result for %s was submitted for certification. "+
			"Reference: %s.\n", name, moduleName, acknowledgementID),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryResult представляет результат доставки уведомления.
type DeliveryResult struct {
	// MessageID - ID, выданный почтовым сервисом (если есть).
	MessageID string

	// StatusCode - HTTP-статус ответа сервиса.
	StatusCode int

	// DeliveredAt - время отправки.
	DeliveredAt time.Time

	// Retryable - можно ли повторить отправку.
	Retryable bool
}

// Sender отправляет письма.
type Sender interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

var (
	// ErrInvalidType - неизвестный тип уведомления.
	ErrInvalidType = errors.New("invalid notification type")

	// ErrNoRecipient - не указан адрес.
	ErrNoRecipient = errors.New("notification recipient is required")

	// ErrEmptySubject - пустая тема.
	ErrEmptySubject = errors.New("notification subject is required")
)
