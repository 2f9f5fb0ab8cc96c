package todo

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxTitleLength is the maximum todo title length
	MaxTitleLength = 200
	// MaxNotesLength is the maximum notes length
	MaxNotesLength = 10000
	// MaxTagCount is the maximum number of tags per todo
	MaxTagCount = 16
	// MaxTagLength is the maximum length of a single tag
	MaxTagLength = 40
)

// Validator instance for request validation
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validateRequest runs struct-tag validation and maps the failures to
// field-level errors.
func validateRequest(req interface{}) []ValidationError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: "request", Message: "Invalid request"}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: messageFor(fe),
		})
	}
	return out
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Value exceeds maximum length of " + fe.Param()
	case "min":
		return "Value is below minimum of " + fe.Param()
	case "oneof":
		return "Value must be one of: " + fe.Param()
	case "dive":
		return "Invalid element"
	default:
		return "Invalid value"
	}
}

// validateTags checks tag count and per-tag length after sanitization
func validateTags(tags []string) []ValidationError {
	var errs []ValidationError
	if len(tags) > MaxTagCount {
		errs = append(errs, ValidationError{
			Field:   "tags",
			Message: "A todo may carry at most 16 tags",
		})
	}
	for _, tag := range tags {
		if tag == "" || len(tag) > MaxTagLength {
			errs = append(errs, ValidationError{
				Field:   "tags",
				Message: "Tags must be between 1 and 40 characters",
			})
			break
		}
	}
	return errs
}
