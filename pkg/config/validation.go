package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against its struct validation tags and
// returns one error listing every violated field.
func Validate(cfg *Config) error {
	validate := validator.New()

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, describeFieldError(fieldErr))
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

func describeFieldError(fieldErr validator.FieldError) string {
	field := fieldErr.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}

	switch fieldErr.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fieldErr.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fieldErr.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fieldErr.Param())
	case "min", "max":
		return fmt.Sprintf("%s is out of range", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fieldErr.Tag())
	}
}
