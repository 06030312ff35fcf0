package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT WORKFLOW: START + SUBMIT DETAILS
// collecting_details → awaiting_verification. Попытка живёт в хранилище
// с TTL; в ней остаются только способ оплаты и последние цифры карты.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultAttemptTTL - срок жизни попытки по умолчанию.
const DefaultAttemptTTL = 15 * time.Minute

// PaymentConfig настраивает обработчики платёжного процесса.
type PaymentConfig struct {
	AttemptTTL time.Duration
}

func (c PaymentConfig) ttl() time.Duration {
	if c.AttemptTTL <= 0 {
		return DefaultAttemptTTL
	}
	return c.AttemptTTL
}

// StartPaymentCommand открывает (или возвращает текущую) попытку оплаты.
type StartPaymentCommand struct {
	Session      *session.Session `validate:"required"`
	EnrollmentID string           `validate:"required"`
}

// SubmitPaymentDetailsCommand передаёт реквизиты оплаты.
type SubmitPaymentDetailsCommand struct {
	Session      *session.Session `validate:"required"`
	EnrollmentID string           `validate:"required"`
	Method       payment.Method   `validate:"required,oneof=paypal visa mastercard"`
	Details      payment.Details
}

// PaymentDetailsHandler обрабатывает StartPaymentCommand и SubmitPaymentDetailsCommand.
type PaymentDetailsHandler struct {
	sessions       *session.Resolver
	enrollments    enrollment.Repository
	attempts       payment.AttemptStore
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	config         PaymentConfig
	logger         *logger.Logger
}

// NewPaymentDetailsHandler создаёт обработчик.
func NewPaymentDetailsHandler(
	sessions *session.Resolver,
	enrollments enrollment.Repository,
	attempts payment.AttemptStore,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	config PaymentConfig,
	log *logger.Logger,
) *PaymentDetailsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PaymentDetailsHandler{
		sessions:       sessions,
		enrollments:    enrollments,
		attempts:       attempts,
		eventPublisher: eventPublisher,
		clock:          clock,
		config:         config,
		logger:         log.Named("payment_details"),
	}
}

// Start возвращает текущую попытку или открывает новую.
func (h *PaymentDetailsHandler) Start(ctx context.Context, cmd StartPaymentCommand) (*payment.Attempt, error) {
	if err := validateStruct("start_payment", cmd); err != nil {
		return nil, err
	}
	_, e, err := h.payableEnrollment(ctx, cmd.Session, cmd.EnrollmentID)
	if err != nil {
		return nil, err
	}

	attempt, err := h.attempts.Get(ctx, e.ID)
	if err == nil && attempt.LearnerID == e.LearnerID {
		return attempt, nil
	}
	if err != nil && !errors.Is(err, shared.ErrNoPaymentAttempt) {
		return nil, fmt.Errorf("start_payment: load attempt: %w", err)
	}

	attempt = payment.NewAttempt(e.ID, e.LearnerID, h.clock.Now())
	if err := h.attempts.Save(ctx, attempt, h.config.ttl()); err != nil {
		return nil, fmt.Errorf("start_payment: save attempt: %w", err)
	}
	return attempt, nil
}

// Submit принимает реквизиты и переводит попытку в ожидание кода.
func (h *PaymentDetailsHandler) Submit(ctx context.Context, cmd SubmitPaymentDetailsCommand) (*payment.Attempt, error) {
	if err := validateStruct("submit_payment_details", cmd); err != nil {
		return nil, err
	}
	_, e, err := h.payableEnrollment(ctx, cmd.Session, cmd.EnrollmentID)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	attempt, err := h.attempts.Get(ctx, e.ID)
	switch {
	case errors.Is(err, shared.ErrNoPaymentAttempt):
		attempt = payment.NewAttempt(e.ID, e.LearnerID, now)
	case err != nil:
		return nil, fmt.Errorf("submit_payment_details: load attempt: %w", err)
	}

	if err := attempt.SubmitDetails(cmd.Method, cmd.Details, now); err != nil {
		return nil, err
	}
	if err := h.attempts.Save(ctx, attempt, h.config.ttl()); err != nil {
		return nil, fmt.Errorf("submit_payment_details: save attempt: %w", err)
	}

	if h.eventPublisher != nil {
		event := shared.NewPaymentDetailsSubmittedEvent(e.ID, string(cmd.Method))
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", logger.EnrollmentID(e.ID), logger.Err(err))
		}
	}

	h.logger.Info("payment details accepted",
		logger.EnrollmentID(e.ID),
		logger.String("method", string(cmd.Method)),
	)
	return attempt, nil
}

// payableEnrollment проверяет владельца и то, что запись ещё можно оплатить.
func (h *PaymentDetailsHandler) payableEnrollment(ctx context.Context, s *session.Session, enrollmentID string) (*identity.Identity, *enrollment.Enrollment, error) {
	actor, err := h.sessions.Resolve(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	e, err := ownedEnrollment(ctx, h.enrollments, enrollmentID, actor)
	if err != nil {
		return nil, nil, err
	}
	if !e.IsActive() {
		return nil, nil, shared.ErrEnrollmentCancelled
	}
	if e.PaymentStatus.IsPaid() {
		return nil, nil, shared.ErrAlreadyPaid
	}
	return actor, e, nil
}
