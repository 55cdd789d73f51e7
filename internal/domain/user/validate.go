package user

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type FieldIssue struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidationError is returned by the stores when a record breaks a field rule
// (format, length, confirmation match, uniqueness).
type ValidationError struct {
	Fields []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+":"+f.Rule)
	}

	return "validation failed: " + strings.Join(parts, ", ")
}

func DuplicateEmail() *ValidationError {
	return &ValidationError{Fields: []FieldIssue{{Field: "email", Rule: "unique"}}}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json names, not Go field names
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return lowerFirst(sf.Name)
		}
		return name
	})

	return v
}

// Validate checks a struct against its validate tags and converts failures
// into a *ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	out := &ValidationError{Fields: make([]FieldIssue, 0, len(fieldErrors))}
	for _, fe := range fieldErrors {
		out.Fields = append(out.Fields, FieldIssue{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}

	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

type record struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=user guide lead-guide admin"`
}

// ValidateRecord checks the mutable profile fields of an existing user.
func ValidateRecord(u User) error {
	return Validate(record{Name: u.Name, Email: u.Email, Role: u.Role})
}
