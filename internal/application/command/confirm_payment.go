package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIRM PAYMENT COMMAND
// awaiting_verification → succeeded | failed.
// Статус записи меняется одним условным обновлением "только если не paid",
// поэтому повторные подтверждения (двойной клик, повтор запроса) безопасны.
// ══════════════════════════════════════════════════════════════════════════════

// ConfirmPaymentCommand передаёт код подтверждения.
type ConfirmPaymentCommand struct {
	Session      *session.Session
	EnrollmentID string `validate:"required"`
	Code         string `validate:"required"`
}

// ConfirmPaymentResult - итог подтверждения.
type ConfirmPaymentResult struct {
	Enrollment *enrollment.Enrollment

	// AlreadyPaid - запись была оплачена до этого вызова.
	AlreadyPaid bool

	Events []shared.Event
}

// ConfirmPaymentHandler обрабатывает ConfirmPaymentCommand.
type ConfirmPaymentHandler struct {
	sessions       *session.Resolver
	enrollments    enrollment.Repository
	attempts       payment.AttemptStore
	gateway        payment.Gateway
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	config         PaymentConfig
	logger         *logger.Logger
}

// NewConfirmPaymentHandler создаёт обработчик.
func NewConfirmPaymentHandler(
	sessions *session.Resolver,
	enrollments enrollment.Repository,
	attempts payment.AttemptStore,
	gateway payment.Gateway,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	config PaymentConfig,
	log *logger.Logger,
) *ConfirmPaymentHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ConfirmPaymentHandler{
		sessions:       sessions,
		enrollments:    enrollments,
		attempts:       attempts,
		gateway:        gateway,
		eventPublisher: eventPublisher,
		clock:          clock,
		config:         config,
		logger:         log.Named("confirm_payment"),
	}
}

// Handle подтверждает оплату.
func (h *ConfirmPaymentHandler) Handle(ctx context.Context, cmd ConfirmPaymentCommand) (*ConfirmPaymentResult, error) {
	// Оплата никогда не приписывается неаутентифицированному участнику,
	// поэтому сессия проверяется раньше полей команды.
	actor, err := h.sessions.Resolve(ctx, cmd.Session)
	if err != nil {
		return nil, err
	}
	if err := validateStruct("confirm_payment", cmd); err != nil {
		return nil, err
	}

	e, err := ownedEnrollment(ctx, h.enrollments, cmd.EnrollmentID, actor)
	if err != nil {
		return nil, fmt.Errorf("confirm_payment: %w", err)
	}
	if !e.IsActive() {
		return nil, shared.ErrEnrollmentCancelled
	}
	if e.PaymentStatus.IsPaid() {
		return &ConfirmPaymentResult{Enrollment: e, AlreadyPaid: true}, nil
	}

	attempt, err := h.attempts.Get(ctx, e.ID)
	if err == nil && attempt.Step != payment.StepAwaitingVerification {
		err = shared.ErrInvalidPaymentStep
	}
	if err != nil {
		if errors.Is(err, shared.ErrNoPaymentAttempt) || errors.Is(err, shared.ErrInvalidPaymentStep) {
			// Параллельный вызов мог уже закрыть попытку и оплатить запись.
			return h.settled(ctx, e.ID, err)
		}
		return nil, err
	}

	now := h.clock.Now()
	if err := h.gateway.Verify(ctx, attempt, cmd.Code); err != nil {
		if !errors.Is(err, shared.ErrVerificationFailed) {
			// Сбой шлюза не отказ: попытка остаётся в ожидании кода.
			return nil, fmt.Errorf("confirm_payment: gateway: %w", err)
		}
		return nil, h.fail(ctx, e, attempt, err)
	}
	if err := attempt.Succeed(now); err != nil {
		return nil, err
	}

	rows, err := h.enrollments.MarkPaid(ctx, e.ID, now)
	if err != nil {
		return nil, fmt.Errorf("confirm_payment: mark paid: %w", err)
	}
	if rows == 0 {
		return h.settled(ctx, e.ID, shared.ErrVerificationFailed)
	}
	h.keepAttempt(ctx, attempt)

	current, err := h.enrollments.GetByID(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("confirm_payment: reload: %w", err)
	}
	result := &ConfirmPaymentResult{Enrollment: current}

	event := shared.NewPaymentConfirmedEvent(e.ID, e.LearnerID, e.ProgrammeID, string(attempt.Method))
	result.Events = append(result.Events, event)
	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", logger.EnrollmentID(e.ID), logger.Err(err))
		}
	}

	h.logger.Info("payment confirmed",
		logger.EnrollmentID(e.ID),
		logger.String("method", string(attempt.Method)),
	)
	return result, nil
}

// settled перечитывает запись: если она уже оплачена, вызов считается
// успешным повтором, иначе возвращается cause.
func (h *ConfirmPaymentHandler) settled(ctx context.Context, enrollmentID string, cause error) (*ConfirmPaymentResult, error) {
	current, err := h.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("confirm_payment: reload: %w", err)
	}
	if !current.PaymentStatus.IsPaid() {
		return nil, cause
	}
	h.logger.Debug("payment already settled", logger.EnrollmentID(enrollmentID))
	return &ConfirmPaymentResult{Enrollment: current, AlreadyPaid: true}, nil
}

// fail фиксирует отказ: попытка остаётся в failed до конца TTL,
// запись помечается failed.
func (h *ConfirmPaymentHandler) fail(ctx context.Context, e *enrollment.Enrollment, attempt *payment.Attempt, cause error) error {
	now := h.clock.Now()
	if err := attempt.Fail(now); err != nil {
		return err
	}
	h.keepAttempt(ctx, attempt)

	if _, err := h.enrollments.MarkPaymentFailed(ctx, e.ID, now); err != nil {
		return fmt.Errorf("confirm_payment: mark failed: %w", err)
	}

	if h.eventPublisher != nil {
		event := shared.NewPaymentFailedEvent(e.ID, cause.Error())
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", logger.EnrollmentID(e.ID), logger.Err(err))
		}
	}

	h.logger.Warn("payment verification failed", logger.EnrollmentID(e.ID), logger.Int("failures", attempt.Failures))
	return cause
}

// keepAttempt сохраняет конечное состояние попытки, чтобы его видел getPaymentAttempt.
func (h *ConfirmPaymentHandler) keepAttempt(ctx context.Context, attempt *payment.Attempt) {
	if err := h.attempts.Save(ctx, attempt, h.config.ttl()); err != nil {
		h.logger.Warn("failed to store payment attempt", logger.EnrollmentID(attempt.EnrollmentID), logger.Err(err))
	}
}
