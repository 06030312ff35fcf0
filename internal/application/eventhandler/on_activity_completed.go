// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"errors"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACTIVITY COMPLETED HANDLER
// После каждой выполненной активности пересчитывает готовность итоговой
// записи по текущему модулю. Переход draft → ready публикуется самой
// командой EvaluateReadiness.
// ═══════════════════════════════════════════════════════════════════════════

// OnActivityCompletedHandler обрабатывает activity.completed.
type OnActivityCompletedHandler struct {
	readiness *command.EvaluateReadinessHandler
	timeout   time.Duration
	logger    *logger.Logger
}

// NewOnActivityCompletedHandler создаёт обработчик.
func NewOnActivityCompletedHandler(readiness *command.EvaluateReadinessHandler, log *logger.Logger) *OnActivityCompletedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnActivityCompletedHandler{
		readiness: readiness,
		timeout:   10 * time.Second,
		logger:    log.Named("on_activity_completed"),
	}
}

// Handle реализует shared.EventHandler.
func (h *OnActivityCompletedHandler) Handle(event shared.Event) error {
	completed, ok := event.(shared.ActivityCompletedEvent)
	if !ok {
		h.logger.Warn("received unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := h.readiness.Handle(ctx, command.EvaluateReadinessCommand{EnrollmentID: completed.AggregateID()})
	if err != nil {
		// Запись могли отменить между выполнением активности и обработкой события.
		if errors.Is(err, shared.ErrEnrollmentCancelled) || errors.Is(err, shared.ErrPaymentRequired) || shared.IsNotFound(err) {
			h.logger.Debug("readiness skipped",
				logger.EnrollmentID(completed.AggregateID()),
				logger.Err(err),
			)
			return nil
		}
		h.logger.Error("readiness evaluation failed",
			logger.EnrollmentID(completed.AggregateID()),
			logger.ActivityKey(completed.ActivityKey),
			logger.Err(err),
		)
		return err
	}

	if res.Transitioned {
		h.logger.Info("result ready for approval",
			logger.EnrollmentID(completed.AggregateID()),
			logger.ResultID(res.Record.ID),
		)
	}
	return nil
}
