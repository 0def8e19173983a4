package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/ride-checkout/internal/domain"
)

const (
	ErrDefaultInvalid = "is invalid"
	ErrRequired       = "is required"
	ErrMinLength      = "must be at least %s"
	ErrMaxLength      = "must be at most %s"
)

func NewValidator() *validator.Validate {
	validator := validator.New(validator.WithRequiredStructEnabled())

	validator.RegisterValidation("vehicle_class", validateVehicleClass)
	validator.RegisterValidation("bearer_token", validateBearerToken)

	return validator
}

// validateVehicleClass accepts the known vehicle labels in any case. Empty is left to "required".
func validateVehicleClass(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}

	_, ok := domain.ParseVehicleClass(value)
	return ok
}

func validateBearerToken(fl validator.FieldLevel) bool {
	token := fl.Field().String()

	return token != "" && !strings.ContainsAny(token, " \t\r\n")
}

// ValidationMessage converts validator errors into readable messages
func ValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return ErrRequired
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf(ErrMinLength, err.Param())
	case "max":
		return fmt.Sprintf(ErrMaxLength, err.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", err.Param())
	case "vehicle_class":
		return "must be one of car, sienna or bus"
	case "bearer_token":
		return "must be a non-empty token without whitespace"
	default:
		return ErrDefaultInvalid
	}
}
