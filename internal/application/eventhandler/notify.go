package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/notification"
	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// EMAIL NOTIFICATIONS
// Письма об оплате и о передаче результата на сертификацию.
// Отправка включается флагом notify.email; сбой доставки не откатывает
// состояние, которое описывает событие.
// ═══════════════════════════════════════════════════════════════════════════

// NotifierDeps - зависимости обработчиков уведомлений.
type NotifierDeps struct {
	Sender      notification.Sender
	Identities  identity.Repository
	Enrollments enrollment.Repository
	Catalog     programme.Source
	Results     result.Repository
	Logger      *logger.Logger

	// Enabled - флаг notify.email. nil означает "выключено".
	Enabled func() bool
}

type notifier struct {
	sender      notification.Sender
	identities  identity.Repository
	enrollments enrollment.Repository
	catalog     programme.Source
	results     result.Repository
	enabled     func() bool
	timeout     time.Duration
	logger      *logger.Logger
}

func newNotifier(deps NotifierDeps, name string) notifier {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return notifier{
		sender:      deps.Sender,
		identities:  deps.Identities,
		enrollments: deps.Enrollments,
		catalog:     deps.Catalog,
		results:     deps.Results,
		enabled:     deps.Enabled,
		timeout:     30 * time.Second,
		logger:      log.Named(name),
	}
}

func (n notifier) active() bool {
	return n.sender != nil && n.enabled != nil && n.enabled()
}

func (n notifier) deliver(ctx context.Context, msg notification.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	res, err := n.sender.Send(ctx, msg)
	if err != nil {
		n.logger.Error("email delivery failed",
			logger.IdentityID(msg.RecipientID),
			logger.String("type", string(msg.Type)),
			logger.Bool("retryable", res.Retryable),
			logger.Err(err),
		)
		return err
	}
	n.logger.Info("email sent",
		logger.IdentityID(msg.RecipientID),
		logger.String("type", string(msg.Type)),
		logger.String("message_id", res.MessageID),
	)
	return nil
}

// OnPaymentConfirmedHandler отправляет письмо об открытии программы.
type OnPaymentConfirmedHandler struct {
	notifier
}

// NewOnPaymentConfirmedHandler создаёт обработчик.
func NewOnPaymentConfirmedHandler(deps NotifierDeps) *OnPaymentConfirmedHandler {
	return &OnPaymentConfirmedHandler{notifier: newNotifier(deps, "on_payment_confirmed")}
}

// Handle реализует shared.EventHandler.
func (h *OnPaymentConfirmedHandler) Handle(event shared.Event) error {
	paid, ok := event.(shared.PaymentConfirmedEvent)
	if !ok {
		h.logger.Warn("received unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}
	if !h.active() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	learner, err := h.identities.GetByID(ctx, paid.LearnerID)
	if err != nil {
		return fmt.Errorf("on_payment_confirmed: load learner: %w", err)
	}
	prog, err := h.catalog.Get(ctx, paid.ProgrammeID)
	if err != nil {
		return fmt.Errorf("on_payment_confirmed: load programme: %w", err)
	}

	return h.deliver(ctx, notification.NewPaymentConfirmed(
		learner.ID, learner.DisplayName(), learner.Email.String(), prog.Name,
	))
}

// OnResultSubmittedHandler отправляет письмо с номером подтверждения сертификации.
type OnResultSubmittedHandler struct {
	notifier
}

// NewOnResultSubmittedHandler создаёт обработчик.
func NewOnResultSubmittedHandler(deps NotifierDeps) *OnResultSubmittedHandler {
	return &OnResultSubmittedHandler{notifier: newNotifier(deps, "on_result_submitted")}
}

// Handle реализует shared.EventHandler.
func (h *OnResultSubmittedHandler) Handle(event shared.Event) error {
	submitted, ok := event.(shared.ResultTransitionEvent)
	if !ok || submitted.EventType() != shared.EventResultSubmitted {
		h.logger.Warn("received unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}
	if !h.active() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	rec, err := h.results.GetByID(ctx, submitted.AggregateID())
	if err != nil {
		return fmt.Errorf("on_result_submitted: load result: %w", err)
	}
	e, err := h.enrollments.GetByID(ctx, rec.EnrollmentID)
	if err != nil {
		return fmt.Errorf("on_result_submitted: load enrollment: %w", err)
	}
	learner, err := h.identities.GetByID(ctx, e.LearnerID)
	if err != nil {
		return fmt.Errorf("on_result_submitted: load learner: %w", err)
	}

	return h.deliver(ctx, notification.NewResultSubmitted(
		learner.ID, learner.DisplayName(), learner.Email.String(), rec.ModuleName, submitted.AcknowledgementID,
	))
}
