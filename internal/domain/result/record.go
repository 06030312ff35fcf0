// Package result содержит итоговую запись о прохождении недельного модуля,
// которая проходит утверждение и передаётся во внешний орган сертификации.
package result

import (
	"errors"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// Status - состояние итоговой записи. Переходы только вперёд:
// draft → ready → approved → submitted.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReady     Status = "ready"
	StatusApproved  Status = "approved"
	StatusSubmitted Status = "submitted"
)

// rank задаёт порядок статусов.
func (s Status) rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusReady:
		return 1
	case StatusApproved:
		return 2
	case StatusSubmitted:
		return 3
	default:
		return -1
	}
}

// IsValid проверяет статус.
func (s Status) IsValid() bool {
	return s.rank() >= 0
}

// AtLeast возвращает true, если статус не раньше other.
func (s Status) AtLeast(other Status) bool {
	return s.rank() >= other.rank()
}

// ParseStatus разбирает строку в Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", shared.NewDomainError("result", "ParseStatus", shared.ErrInvalidInput, "unknown result status")
	}
	return st, nil
}

// Record - итоговая запись по одному недельному модулю записи слушателя.
type Record struct {
	ID           string
	EnrollmentID string
	UnitID       string
	ModuleName   string
	Status       Status
	EvidenceRefs []string

	// ApprovedBy и ApprovedAt перезаписываются последним утвердившим.
	ApprovedBy string
	ApprovedAt *time.Time

	SubmittedAt       *time.Time
	AcknowledgementID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDraft создаёт черновик.
func NewDraft(id, enrollmentID, unitID, moduleName string, now time.Time) (*Record, error) {
	if id == "" || enrollmentID == "" || unitID == "" {
		return nil, ErrIncompleteKey
	}
	return &Record{
		ID:           id,
		EnrollmentID: enrollmentID,
		UnitID:       unitID,
		ModuleName:   moduleName,
		Status:       StatusDraft,
		EvidenceRefs: []string{},
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// IsPastDraft возвращает true, если запись уже не может вернуться в draft.
func (r *Record) IsPastDraft() bool {
	return r.Status.AtLeast(StatusReady)
}

// CanApprove возвращает nil, если запись можно утвердить (в том числе повторно).
func (r *Record) CanApprove() error {
	switch r.Status {
	case StatusReady, StatusApproved:
		return nil
	case StatusSubmitted:
		return shared.ErrResultSubmitted
	default:
		return shared.ErrNotReady
	}
}

// CanSubmit возвращает nil, если запись можно передать.
func (r *Record) CanSubmit() error {
	if r.Status != StatusApproved {
		return shared.ErrNotApproved
	}
	return nil
}

// ErrIncompleteKey - не задан ключ записи.
var ErrIncompleteKey = errors.New("result record needs id, enrollment id and unit id")
