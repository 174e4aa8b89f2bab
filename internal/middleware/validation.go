package middleware

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator.Validate instance used across
// handlers to check struct tags on decoded request bodies
// (`validate:"required"`, `validate:"oneof=..."`, etc.). Grounded on the
// teacher's ValidationMiddleware / ValidationErrorHandler
// (internal/middleware/validation.go), generalized from a single
// hardcoded request type to any tagged struct since this gateway's
// request shapes vary per endpoint.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// FieldErrors flattens validator.ValidationErrors into human-readable
// messages suitable for a 400 response body, grounded on the teacher's
// getValidationMessage switch.
func FieldErrors(err error) []string {
	var out []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			out = append(out, validationMessage(fe.Field(), fe.Tag(), fe.Param()))
		}
		return out
	}
	if err != nil {
		out = append(out, err.Error())
	}
	return out
}

func validationMessage(field, tag, param string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
