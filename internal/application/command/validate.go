// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// validate is shared by every command; validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs tag validation and maps failures to shared.ErrValidation.
func validateStruct(op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return shared.WrapError(op, "Validate", shared.ErrValidation,
			"invalid fields: "+strings.Join(fields, ", "), err)
	}
	return shared.WrapError(op, "Validate", shared.ErrValidation, err.Error(), err)
}

// newID generates a record identifier.
func newID() string {
	return uuid.NewString()
}
