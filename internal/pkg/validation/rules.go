package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Column limits of the student records schema
var (
	RegistrationNumberMaxLength = 64
	NameMaxLength               = 255
	CourseNumberMaxLength       = 64
	TitleMaxLength              = 255
	ExamMaxLength               = 255
)

// Registration numbers are printable and carry no surrounding whitespace
var RegistrationNumberPattern = regexp.MustCompile(`^\S(.*\S)?$`)

// StringValidation checks a single string field
type StringValidation struct {
	Value    string
	MinLen   int
	MaxLen   int
	Required bool
	Pattern  *regexp.Regexp
}

// NewStringValidation creates a new string validation. Fields are required
// unless WithRequired(false) is called.
func NewStringValidation(value string) *StringValidation {
	return &StringValidation{
		Value:    value,
		Required: true,
	}
}

// WithMinLength sets minimum length in characters
func (v *StringValidation) WithMinLength(min int) *StringValidation {
	v.MinLen = min
	return v
}

// WithMaxLength sets maximum length in characters
func (v *StringValidation) WithMaxLength(max int) *StringValidation {
	v.MaxLen = max
	return v
}

// WithPattern sets regex pattern
func (v *StringValidation) WithPattern(pattern *regexp.Regexp) *StringValidation {
	v.Pattern = pattern
	return v
}

// WithRequired sets if field is required
func (v *StringValidation) WithRequired(required bool) *StringValidation {
	v.Required = required
	return v
}

// Validate performs validation
func (v *StringValidation) Validate() bool {
	if v.Required && strings.TrimSpace(v.Value) == "" {
		return false
	}

	// Skip other validations for empty optional values
	if !v.Required && v.Value == "" {
		return true
	}

	n := utf8.RuneCountInString(v.Value)
	if v.MinLen > 0 && n < v.MinLen {
		return false
	}
	if v.MaxLen > 0 && n > v.MaxLen {
		return false
	}

	if v.Pattern != nil && !v.Pattern.MatchString(v.Value) {
		return false
	}

	return true
}

// NumericValidation checks an integer field against optional bounds
type NumericValidation struct {
	Value int64
	Min   *int64
	Max   *int64
}

// NewNumericValidation creates a new numeric validation without bounds
func NewNumericValidation(value int64) *NumericValidation {
	return &NumericValidation{Value: value}
}

// WithMin sets minimum value
func (v *NumericValidation) WithMin(min int64) *NumericValidation {
	v.Min = &min
	return v
}

// WithMax sets maximum value
func (v *NumericValidation) WithMax(max int64) *NumericValidation {
	v.Max = &max
	return v
}

// Validate performs validation
func (v *NumericValidation) Validate() bool {
	if v.Min != nil && v.Value < *v.Min {
		return false
	}
	if v.Max != nil && v.Value > *v.Max {
		return false
	}
	return true
}
