// Package programme содержит модель аккредитованной программы обучения.
package programme

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Programme - программа, на которую может записаться слушатель.
type Programme struct {
	// ID - идентификатор программы. Для программ из стартового каталога
	// задаётся вручную, для созданных преподавателями - UUID.
	ID string

	// Name - название программы.
	Name string

	// NQFLevel - уровень по национальной рамке квалификаций (1-10).
	NQFLevel int

	// TotalCredits - общее число кредитов программы.
	TotalCredits int

	// Description - краткое описание.
	Description string

	// FacilitatorID - ведущий преподаватель (может быть пустым).
	FacilitatorID string

	// CreatedAt - время создания.
	CreatedAt time.Time
}

// Validate проверяет инварианты программы.
func (p *Programme) Validate() error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, ErrEmptyID)
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrEmptyName)
	}
	if p.NQFLevel < 1 || p.NQFLevel > 10 {
		errs = append(errs, ErrInvalidNQFLevel)
	}
	if p.TotalCredits <= 0 {
		errs = append(errs, ErrInvalidCredits)
	}
	return errors.Join(errs...)
}

// IsFacilitatedBy проверяет, ведёт ли преподаватель эту программу.
func (p *Programme) IsFacilitatedBy(identityID string) bool {
	return p.FacilitatorID != "" && p.FacilitatorID == identityID
}

// ══════════════════════════════════════════════════════════════════════════════
// SOURCES
// Каталог складывается из двух источников: статического стартового списка
// и хранилища программ, созданных преподавателями. Объединение - при чтении.
// ══════════════════════════════════════════════════════════════════════════════

// Source - источник программ только для чтения.
type Source interface {
	// List возвращает все программы источника.
	List(ctx context.Context) ([]*Programme, error)

	// Get возвращает программу по ID или ErrProgrammeNotFound.
	Get(ctx context.Context, id string) (*Programme, error)
}

// Store - изменяемое хранилище программ.
type Store interface {
	Source

	// Create сохраняет новую программу.
	Create(ctx context.Context, p *Programme) error

	// ListByFacilitator возвращает программы преподавателя.
	ListByFacilitator(ctx context.Context, facilitatorID string) ([]*Programme, error)
}

var (
	// ErrEmptyID - пустой идентификатор.
	ErrEmptyID = errors.New("programme id is required")

	// ErrEmptyName - пустое название.
	ErrEmptyName = errors.New("programme name is required")

	// ErrInvalidNQFLevel - уровень вне диапазона 1-10.
	ErrInvalidNQFLevel = errors.New("nqf level must be between 1 and 10")

	// ErrInvalidCredits - неположительное число кредитов.
	ErrInvalidCredits = errors.New("total credits must be positive")
)
