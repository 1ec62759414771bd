package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// MaxKeyLength matches the engine's key limit
	MaxKeyLength = 64 << 10
)

func init() {
	validate = validator.New()
}

// Struct validates v's `validate` tags and reports the first failure in a
// readable form
func Struct(v any) error {
	return formatValidationError(validate.Struct(v))
}

// ValidateKey checks a document key received from a client. Keys must be
// valid UTF-8 without whitespace or control characters so they survive the
// text protocol and URL paths.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("key exceeds maximum length of %d bytes", MaxKeyLength)
	}
	if !utf8.ValidString(key) {
		return errors.New("key is not valid UTF-8")
	}
	for i, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("key contains whitespace or control character at byte %d", i)
		}
	}
	return nil
}

// ValidateDocument checks that body is a single JSON value no larger than max bytes
func ValidateDocument(body []byte, max int) error {
	if len(body) == 0 {
		return errors.New("document body cannot be empty")
	}
	if max > 0 && len(body) > max {
		return fmt.Errorf("document exceeds maximum size of %d bytes", max)
	}
	if !json.Valid(body) {
		return errors.New("document is not valid JSON")
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min", "gte":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max", "lte":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "gt":
			return fmt.Errorf("%s: must be greater than %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		case "hostname_port":
			return fmt.Errorf("%s: must be host:port", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
