package lead

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Body keys accepted by Parse.
const (
	FieldName        = "name"
	FieldEmail       = "email"
	FieldCompany     = "company"
	FieldProjectType = "project_type"
	FieldMessage     = "message"
	FieldSource      = "source"

	// FieldBody names violations about the request body as a whole.
	FieldBody = "body"
)

// fieldOrder fixes the order in which violations are reported.
var fieldOrder = map[string]int{
	FieldBody:        -1,
	FieldName:        0,
	FieldEmail:       1,
	FieldCompany:     2,
	FieldProjectType: 3,
	FieldMessage:     4,
	FieldSource:      5,
}

// Lead is one validated form submission.
type Lead struct {
	Name        string  `json:"name" validate:"required,min=2,max=100"`
	Email       string  `json:"email" validate:"required,email"`
	Company     *string `json:"company" validate:"omitempty,max=120"`
	ProjectType *string `json:"project_type" validate:"omitempty,max=120"`
	Message     *string `json:"message" validate:"omitempty,max=2000"`
	Source      *string `json:"source" validate:"omitempty,max=120"`
}

// Document returns the payload stored for the lead. Absent optional fields are
// kept as explicit nulls.
func (l Lead) Document() map[string]any {
	return map[string]any{
		FieldName:        l.Name,
		FieldEmail:       l.Email,
		FieldCompany:     optional(l.Company),
		FieldProjectType: optional(l.ProjectType),
		FieldMessage:     optional(l.Message),
		FieldSource:      optional(l.Source),
	}
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode reads exactly one JSON object from r and parses it into a Lead.
// Trailing data after the object is rejected.
func Decode(r io.Reader) (Lead, error) {
	dec := json.NewDecoder(r)
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return Lead{}, bodyError(newViolation(FieldBody, ConstraintMissing, 0))
		}
		return Lead{}, decodeError(err)
	}
	if raw == nil {
		return Lead{}, bodyError(newViolation(FieldBody, ConstraintInvalidJSON, 0))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Lead{}, decodeError(err)
	}
	return Parse(raw)
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return bodyError(Violation{
			Field:      FieldBody,
			Constraint: ConstraintTooLong,
			Message:    fmt.Sprintf("body must be at most %d bytes", tooLarge.Limit),
		})
	}
	return bodyError(newViolation(FieldBody, ConstraintInvalidJSON, 0))
}

func bodyError(v Violation) *ValidationError {
	return &ValidationError{Violations: []Violation{v}}
}

// Parse validates raw key/value input. Unknown keys are ignored and JSON null
// counts as absent. On failure the error is a *ValidationError naming every
// offending field.
func Parse(raw map[string]any) (Lead, error) {
	var (
		l          Lead
		violations []Violation
		badType    = map[string]bool{}
	)

	text := func(key string) (string, bool) {
		v, ok := raw[key]
		if !ok || v == nil {
			return "", false
		}
		s, ok := v.(string)
		if !ok {
			badType[key] = true
			violations = append(violations, newViolation(key, ConstraintInvalidType, 0))
			return "", false
		}
		return s, true
	}
	optionalText := func(key string) *string {
		if s, ok := text(key); ok {
			return &s
		}
		return nil
	}

	l.Name, _ = text(FieldName)
	l.Email, _ = text(FieldEmail)
	l.Company = optionalText(FieldCompany)
	l.ProjectType = optionalText(FieldProjectType)
	l.Message = optionalText(FieldMessage)
	l.Source = optionalText(FieldSource)

	if err := validate.Struct(l); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Lead{}, fmt.Errorf("validate lead: %w", err)
		}
		for _, fe := range fieldErrs {
			if badType[fe.Field()] {
				continue
			}
			violations = append(violations, fromFieldError(fe))
		}
	}

	if len(violations) > 0 {
		sort.SliceStable(violations, func(i, j int) bool {
			return fieldOrder[violations[i].Field] < fieldOrder[violations[j].Field]
		})
		return Lead{}, &ValidationError{Violations: violations}
	}
	return l, nil
}
