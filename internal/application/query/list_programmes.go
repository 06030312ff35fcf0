package query

import (
	"context"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/programme"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST PROGRAMMES QUERY
// Каталог программ: статический список и созданные преподавателями,
// объединённые при чтении.
// ══════════════════════════════════════════════════════════════════════════════

// ListProgrammesQuery содержит фильтры каталога.
type ListProgrammesQuery struct {
	// FacilitatorID - только программы этого преподавателя (опционально).
	FacilitatorID string

	// MinNQFLevel - нижняя граница уровня (0 = без ограничения).
	MinNQFLevel int
}

// ProgrammeDTO - программа для отображения.
type ProgrammeDTO struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	NQFLevel      int       `json:"nqf_level"`
	TotalCredits  int       `json:"total_credits"`
	Description   string    `json:"description,omitempty"`
	FacilitatorID string    `json:"facilitator_id,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// NewProgrammeDTO собирает DTO.
func NewProgrammeDTO(p *programme.Programme) ProgrammeDTO {
	return ProgrammeDTO{
		ID:            p.ID,
		Name:          p.Name,
		NQFLevel:      p.NQFLevel,
		TotalCredits:  p.TotalCredits,
		Description:   p.Description,
		FacilitatorID: p.FacilitatorID,
		CreatedAt:     p.CreatedAt,
	}
}

// ProgrammeCatalog - объединённый каталог.
type ProgrammeCatalog interface {
	List(ctx context.Context) ([]*programme.Programme, error)
	Get(ctx context.Context, id string) (*programme.Programme, error)
	ListByFacilitator(ctx context.Context, facilitatorID string) ([]*programme.Programme, error)
}

// ListProgrammesHandler обрабатывает ListProgrammesQuery.
type ListProgrammesHandler struct {
	catalog ProgrammeCatalog
}

// NewListProgrammesHandler создаёт обработчик.
func NewListProgrammesHandler(catalog ProgrammeCatalog) *ListProgrammesHandler {
	return &ListProgrammesHandler{catalog: catalog}
}

// Handle возвращает программы, отсортированные по названию.
func (h *ListProgrammesHandler) Handle(ctx context.Context, q ListProgrammesQuery) ([]ProgrammeDTO, error) {
	var (
		list []*programme.Programme
		err  error
	)
	if q.FacilitatorID != "" {
		list, err = h.catalog.ListByFacilitator(ctx, q.FacilitatorID)
	} else {
		list, err = h.catalog.List(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list_programmes: %w", err)
	}

	out := make([]ProgrammeDTO, 0, len(list))
	for _, p := range list {
		if q.MinNQFLevel > 0 && p.NQFLevel < q.MinNQFLevel {
			continue
		}
		out = append(out, NewProgrammeDTO(p))
	}
	return out, nil
}

// Get возвращает одну программу или ErrProgrammeNotFound.
func (h *ListProgrammesHandler) Get(ctx context.Context, id string) (*ProgrammeDTO, error) {
	p, err := h.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := NewProgrammeDTO(p)
	return &dto, nil
}
