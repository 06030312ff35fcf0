// Package payment содержит кратковременную попытку оплаты записи.
// Попытка живёт только до подтверждения, отказа или отмены и не хранится
// дольше своего TTL.
package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Method - способ оплаты.
type Method string

const (
	MethodPayPal     Method = "paypal"
	MethodVisa       Method = "visa"
	MethodMastercard Method = "mastercard"
)

// IsValid проверяет способ оплаты.
func (m Method) IsValid() bool {
	switch m {
	case MethodPayPal, MethodVisa, MethodMastercard:
		return true
	default:
		return false
	}
}

// RequiresCard возвращает true для карточных способов.
func (m Method) RequiresCard() bool {
	return m == MethodVisa || m == MethodMastercard
}

// Step - состояние попытки.
type Step string

const (
	// StepCollectingDetails - начальное состояние, ждём реквизиты.
	StepCollectingDetails Step = "collecting_details"
	// StepAwaitingVerification - реквизиты приняты, ждём код подтверждения.
	StepAwaitingVerification Step = "awaiting_verification"
	// StepSucceeded - оплата подтверждена.
	StepSucceeded Step = "succeeded"
	// StepFailed - подтверждение не прошло; можно начать заново со сбора реквизитов.
	StepFailed Step = "failed"
)

// IsTerminal возвращает true для конечных состояний.
func (s Step) IsTerminal() bool {
	return s == StepSucceeded || s == StepFailed
}

// ══════════════════════════════════════════════════════════════════════════════
// DETAILS
// ══════════════════════════════════════════════════════════════════════════════

// Details - реквизиты, введённые слушателем. В попытке сохраняются только
// способ оплаты и последние четыре цифры карты.
type Details struct {
	CardNumber string
	Expiry     string // MM/YY
	CVV        string
}

// cardFields - нормализованные реквизиты карты в том виде, в каком их
// проверяет validator.
type cardFields struct {
	Number string `validate:"required,number,min=12,max=19"`
	Expiry string `validate:"required,datetime=01/06"`
	CVV    string `validate:"required,number,min=3,max=4"`
}

var (
	detailsValidator = validator.New()

	cardFieldErrors = map[string]error{
		"Number": ErrInvalidCardNumber,
		"Expiry": ErrInvalidExpiry,
		"CVV":    ErrInvalidCVV,
	}
)

// normalizedNumber убирает пробелы и дефисы из номера карты.
func (d Details) normalizedNumber() string {
	return strings.NewReplacer(" ", "", "-", "").Replace(d.CardNumber)
}

// Validate проверяет реквизиты для выбранного способа.
func (d Details) Validate(method Method) error {
	if !method.IsValid() {
		return fmt.Errorf("%w: payment method %q", shared.ErrInvalidInput, method)
	}
	if !method.RequiresCard() {
		return nil
	}
	err := detailsValidator.Struct(cardFields{
		Number: d.normalizedNumber(),
		Expiry: strings.TrimSpace(d.Expiry),
		CVV:    strings.TrimSpace(d.CVV),
	})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, cardFieldErrors[fe.StructField()])
	}
	return fmt.Errorf("%w: %w", shared.ErrValidation, errors.Join(errs...))
}

// Last4 возвращает последние четыре цифры карты.
func (d Details) Last4() string {
	n := d.normalizedNumber()
	if len(n) < 4 {
		return ""
	}
	return n[len(n)-4:]
}

// ValidateCodeShape проверяет только структуру кода подтверждения.
func ValidateCodeShape(code string) error {
	if err := detailsValidator.Var(strings.TrimSpace(code), "required,number,min=4,max=8"); err != nil {
		return ErrMalformedCode
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ATTEMPT
// ══════════════════════════════════════════════════════════════════════════════

// Attempt - одна попытка оплаты, привязанная к записи.
type Attempt struct {
	EnrollmentID string    `json:"enrollment_id"`
	LearnerID    string    `json:"learner_id"`
	Method       Method    `json:"method,omitempty"`
	CardLast4    string    `json:"card_last4,omitempty"`
	Step         Step      `json:"step"`
	Failures     int       `json:"failures"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewAttempt открывает попытку в состоянии сбора реквизитов.
func NewAttempt(enrollmentID, learnerID string, now time.Time) *Attempt {
	return &Attempt{
		EnrollmentID: enrollmentID,
		LearnerID:    learnerID,
		Step:         StepCollectingDetails,
		StartedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// SubmitDetails принимает реквизиты и переводит попытку в ожидание кода.
// Из failed попытка сначала возвращается к сбору реквизитов; повторная
// отправка в awaiting_verification заменяет реквизиты.
func (a *Attempt) SubmitDetails(method Method, details Details, now time.Time) error {
	switch a.Step {
	case StepCollectingDetails, StepAwaitingVerification:
	case StepFailed:
		a.Step = StepCollectingDetails
	default:
		return shared.ErrInvalidPaymentStep
	}
	if err := details.Validate(method); err != nil {
		return err
	}
	a.Method = method
	a.CardLast4 = ""
	if method.RequiresCard() {
		a.CardLast4 = details.Last4()
	}
	a.Step = StepAwaitingVerification
	a.UpdatedAt = now.UTC()
	return nil
}

// Succeed завершает попытку успехом.
func (a *Attempt) Succeed(now time.Time) error {
	if a.Step != StepAwaitingVerification {
		return shared.ErrInvalidPaymentStep
	}
	a.Step = StepSucceeded
	a.UpdatedAt = now.UTC()
	return nil
}

// Fail завершает попытку отказом.
func (a *Attempt) Fail(now time.Time) error {
	if a.Step != StepAwaitingVerification {
		return shared.ErrInvalidPaymentStep
	}
	a.Step = StepFailed
	a.Failures++
	a.UpdatedAt = now.UTC()
	return nil
}

var (
	// ErrInvalidCardNumber - номер карты не 12-19 цифр.
	ErrInvalidCardNumber = errors.New("card number must be 12-19 digits")

	// ErrInvalidExpiry - срок действия не в формате MM/YY.
	ErrInvalidExpiry = errors.New("expiry must be MM/YY")

	// ErrInvalidCVV - CVV не 3-4 цифры.
	ErrInvalidCVV = errors.New("cvv must be 3-4 digits")

	// ErrMalformedCode - код подтверждения не 4-8 цифр.
	ErrMalformedCode = errors.New("verification code must be 4-8 digits")
)
