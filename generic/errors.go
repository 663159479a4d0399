/*
errors.go - Centralized error types for the commission engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure the engine can produce is a typed error; nothing is silently
  clamped. Callers branch with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors - bad input shape or range (ValidationError)
  2. Date errors       - unparseable or impossible dates (InvalidDateError)
  3. Amount errors     - malformed or negative money (InvalidAmountError)
  4. Store errors      - missing plans, installments, colleges

USAGE:
  _, err := paymentplan.GenerateInstallmentSchedule(params)
  var verr *generic.ValidationError
  if errors.As(err, &verr) {
      for _, f := range verr.Fields {
          fmt.Println(f.Field, f.Message)
      }
  }

SEE ALSO:
  - paymentplan/params.go: builds ValidationErrors field by field
  - api/handlers.go: maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is matched by every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidDate is matched by unparseable or impossible dates.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidAmount is matched by malformed amounts and by negative amounts
	// where a non-negative one is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrPlanNotFound is returned when a referenced payment plan doesn't exist.
	ErrPlanNotFound = errors.New("payment plan not found")

	// ErrInstallmentNotFound is returned when a referenced installment doesn't exist.
	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrCollegeNotFound is returned when a referenced college doesn't exist.
	ErrCollegeNotFound = errors.New("college not found")

	// ErrScheduleLocked is returned when a schedule can no longer be replaced
	// because payments have been recorded against it.
	ErrScheduleLocked = errors.New("schedule has recorded payments")

	// ErrDuplicate is returned by stores when a record with the same ID exists.
	ErrDuplicate = errors.New("record already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError is a problem with one input field. Kind optionally classifies the
// problem (ErrInvalidAmount, ErrInvalidDate) so errors.Is works through the
// enclosing ValidationError.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Kind    error  `json:"-"`
}

// ValidationError collects every field problem found in one input.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes ErrValidation plus the kind of each field problem.
func (e *ValidationError) Unwrap() []error {
	errs := []error{ErrValidation}
	for _, f := range e.Fields {
		if f.Kind != nil {
			errs = append(errs, f.Kind)
		}
	}
	return errs
}

// Add records a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// AddErr records a field problem derived from another error, keeping its kind.
func (e *ValidationError) AddErr(field string, err error) {
	fe := FieldError{Field: field, Message: err.Error()}
	var ia *InvalidAmountError
	var id *InvalidDateError
	switch {
	case errors.As(err, &ia):
		fe.Message = ia.Reason
		fe.Kind = ErrInvalidAmount
	case errors.As(err, &id):
		fe.Message = id.Reason
		fe.Kind = ErrInvalidDate
	}
	e.Fields = append(e.Fields, fe)
}

// HasErrors returns true once any field problem has been recorded.
func (e *ValidationError) HasErrors() bool { return len(e.Fields) > 0 }

// OrNil returns e as an error, or nil when nothing was recorded. This keeps the
// typed-nil-interface trap out of callers.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// FieldMap flattens the field problems for API responses. When a field has
// several problems the first one wins.
func (e *ValidationError) FieldMap() map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := m[f.Field]; !ok {
			m[f.Field] = f.Message
		}
	}
	return m
}

// InvalidDateError reports a date string that cannot be parsed or a date that
// does not exist.
type InvalidDateError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *InvalidDateError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid date %q for %s: %s", e.Value, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid date %q: %s", e.Value, e.Reason)
}

func (e *InvalidDateError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidDate, e.Err}
	}
	return []error{ErrInvalidDate}
}

// InvalidAmountError reports a malformed amount or a negative amount where a
// non-negative one is required. It also matches ErrValidation.
type InvalidAmountError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid amount %q for %s: %s", e.Value, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid amount %q: %s", e.Value, e.Reason)
}

func (e *InvalidAmountError) Unwrap() []error {
	return []error{ErrInvalidAmount, ErrValidation}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrCollegeNotFound)
}

// IsConflict returns true if the request conflicts with recorded state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrScheduleLocked) || errors.Is(err, ErrDuplicate)
}
