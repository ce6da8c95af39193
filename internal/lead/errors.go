package lead

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Constraint names the rule a field broke.
type Constraint string

// Constraints reported in a Violation.
const (
	ConstraintMissing      Constraint = "missing"
	ConstraintInvalidType  Constraint = "invalid_type"
	ConstraintTooShort     Constraint = "too_short"
	ConstraintTooLong      Constraint = "too_long"
	ConstraintInvalidEmail Constraint = "invalid_email"
	ConstraintInvalidJSON  Constraint = "invalid_json"
)

// Violation describes one failed field.
type Violation struct {
	Field      string     `json:"field"`
	Constraint Constraint `json:"constraint"`
	Message    string     `json:"message"`
}

// ValidationError lists every violation found in a submission.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+string(v.Constraint))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the names of the offending fields in report order.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Field)
	}
	return out
}

func fromFieldError(fe validator.FieldError) Violation {
	limit, _ := strconv.Atoi(fe.Param())
	switch fe.Tag() {
	case "required":
		return newViolation(fe.Field(), ConstraintMissing, 0)
	case "min":
		return newViolation(fe.Field(), ConstraintTooShort, limit)
	case "max":
		return newViolation(fe.Field(), ConstraintTooLong, limit)
	case "email":
		return newViolation(fe.Field(), ConstraintInvalidEmail, 0)
	default:
		return Violation{Field: fe.Field(), Constraint: Constraint(fe.Tag()), Message: fe.Error()}
	}
}

func newViolation(field string, c Constraint, limit int) Violation {
	var msg string
	switch c {
	case ConstraintMissing:
		msg = "field required"
	case ConstraintInvalidType:
		msg = "must be a string"
	case ConstraintTooShort:
		msg = fmt.Sprintf("must be at least %d characters", limit)
	case ConstraintTooLong:
		msg = fmt.Sprintf("must be at most %d characters", limit)
	case ConstraintInvalidEmail:
		msg = "value is not a valid email address"
	case ConstraintInvalidJSON:
		msg = "body must be a JSON object"
	}
	return Violation{Field: field, Constraint: c, Message: msg}
}
