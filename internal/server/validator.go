package server

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/emergent-company/tether/pkg/apperror"
)

// Validator adapts go-playground/validator to echo.Validator so handlers can
// call c.Validate on bound request bodies.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a validator for request DTOs.
func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns an apperror.ErrValidation listing failing fields.
func (cv *Validator) Validate(i any) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.ErrValidation.WithInternal(err)
	}

	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperror.ErrValidation.WithDetails(map[string]any{"fields": fields})
}
