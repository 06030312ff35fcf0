package query

import (
	"context"

	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
)

// IsUnlockedHandler отвечает, открыт ли учебный контент записи.
type IsUnlockedHandler struct {
	enrollments enrollment.Repository
}

// NewIsUnlockedHandler создаёт обработчик.
func NewIsUnlockedHandler(enrollments enrollment.Repository) *IsUnlockedHandler {
	return &IsUnlockedHandler{enrollments: enrollments}
}

// Handle возвращает true тогда и только тогда, когда запись активна и оплачена.
func (h *IsUnlockedHandler) Handle(ctx context.Context, enrollmentID string) (bool, error) {
	e, err := h.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	return e.IsUnlocked(), nil
}
