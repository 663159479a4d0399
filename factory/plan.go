/*
Package factory provides JSON to Go payment plan conversion.

PURPOSE:
  Converts JSON plan definitions (as typed into an agency's admin form) into
  paymentplan.PlanParameters. Money and rates travel as decimal strings (or
  JSON numbers) and dates as YYYY-MM-DD, so nothing is rounded through a
  float on the way in.

JSON SCHEMA:
  {
    "total_course_value": "10000.00",
    "fees": {"materials": "500", "admin": "300", "other": "200"},
    "commission_rate": "0.15",
    "gst_inclusive": false,
    "initial_payment": {"amount": "1000", "due_date": "2025-01-15", "paid": false},
    "installment_count": 11,
    "frequency": "monthly",
    "first_due_date": "2025-02-01",
    "student_lead_time_days": 7
  }

TWO-STAGE VALIDATION:
  1. Shape: go-playground/validator struct tags (required fields, formats,
     ranges) with English messages keyed by JSON field path.
  2. Domain: PlanParameters.Validate (cross-field rules such as fees vs
     course value and initial payment vs commissionable value).
  Both stages report a *generic.ValidationError, so callers handle one type.

USAGE:
  f := factory.NewPlanFactory()
  params, err := f.ParsePlan(jsonString)
  installments, err := paymentplan.GenerateInstallmentSchedule(params)

SEE ALSO:
  - paymentplan/params.go: domain validation
  - api/dto.go: request bodies embedding PlanJSON
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON representation of plan parameters.
type PlanJSON struct {
	TotalCourseValue    json.Number         `json:"total_course_value" validate:"required,money"`
	Fees                FeesJSON            `json:"fees"`
	CommissionRate      json.Number         `json:"commission_rate" validate:"required,rate"`
	GSTInclusive        bool                `json:"gst_inclusive"`
	InitialPayment      *InitialPaymentJSON `json:"initial_payment,omitempty"`
	InstallmentCount    int                 `json:"installment_count" validate:"required,min=1,max=1000"`
	Frequency           string              `json:"frequency" validate:"required,oneof=monthly quarterly custom"`
	FirstDueDate        string              `json:"first_due_date,omitempty" validate:"required_unless=Frequency custom,omitempty,isodate"`
	StudentLeadTimeDays int                 `json:"student_lead_time_days" validate:"min=0"`
}

// FeesJSON holds the non-commissionable fees. Missing fees are zero.
type FeesJSON struct {
	Materials json.Number `json:"materials,omitempty" validate:"omitempty,money"`
	Admin     json.Number `json:"admin,omitempty" validate:"omitempty,money"`
	Other     json.Number `json:"other,omitempty" validate:"omitempty,money"`
}

// InitialPaymentJSON is the optional up-front installment.
type InitialPaymentJSON struct {
	Amount  json.Number `json:"amount" validate:"required,money"`
	DueDate string      `json:"due_date" validate:"required,isodate"`
	Paid    bool        `json:"paid"`
}

// =============================================================================
// VALIDATOR
// =============================================================================

var (
	// custom validation tags & texts
	moneyTag  = "money"
	moneyText = "{0} must be a non-negative decimal amount"

	rateTag  = "rate"
	rateText = "{0} must be a decimal between 0 and 1"

	isoDateTag  = "isodate"
	isoDateText = "{0} must be a valid date in YYYY-MM-DD format"

	requiredUnlessTag  = "required_unless"
	requiredUnlessText = "{0} is required for this frequency"
)

// Validator wraps go-playground/validator with English translations and
// JSON field names. It converts failures to *generic.ValidationError.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator instantiates the validator with the custom money, rate and
// date tags registered.
func NewValidator() *Validator {
	validate := validator.New()

	// Register the english error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v := &Validator{validate: validate, translator: translator}

	// register custom validators
	_ = validate.RegisterValidation(moneyTag, moneyValidation)
	v.registerTranslation(moneyTag, moneyText, false)
	_ = validate.RegisterValidation(rateTag, rateValidation)
	v.registerTranslation(rateTag, rateText, false)
	_ = validate.RegisterValidation(isoDateTag, isoDateValidation)
	v.registerTranslation(isoDateTag, isoDateText, false)
	v.registerTranslation(requiredUnlessTag, requiredUnlessText, true)

	return v
}

// registerTranslation registers a custom translation for the specified validation tag.
func (v *Validator) registerTranslation(tag, text string, override bool) {
	_ = v.validate.RegisterTranslation(
		tag, v.translator,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Struct validates s and returns nil or a *generic.ValidationError whose
// field names are JSON paths ("fees.materials", "initial_payment.due_date").
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := &generic.ValidationError{}
	for _, fe := range fieldErrs {
		fieldErr := generic.FieldError{Field: jsonPath(fe.Namespace()), Message: fe.Translate(v.translator)}
		switch fe.Tag() {
		case moneyTag:
			fieldErr.Kind = generic.ErrInvalidAmount
		case isoDateTag:
			fieldErr.Kind = generic.ErrInvalidDate
		}
		verr.Fields = append(verr.Fields, fieldErr)
	}
	return verr
}

// jsonPath drops the root struct name from a validator namespace.
func jsonPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// Custom Global Validators

func moneyValidation(fl validator.FieldLevel) bool {
	_, err := generic.ParseNonNegativeMoney(fl.FieldName(), fl.Field().String())
	return err == nil
}

func rateValidation(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}

func isoDateValidation(fl validator.FieldLevel) bool {
	_, err := generic.ParseDate(fl.Field().String())
	return err == nil
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory converts JSON plans to PlanParameters.
type PlanFactory struct {
	Validator *Validator
}

// NewPlanFactory creates a new plan factory.
func NewPlanFactory() *PlanFactory {
	return &PlanFactory{Validator: NewValidator()}
}

// ParsePlan parses a JSON string into PlanParameters. Unknown fields are
// rejected.
func (f *PlanFactory) ParsePlan(jsonStr string) (paymentplan.PlanParameters, error) {
	var pj PlanJSON
	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pj); err != nil {
		return paymentplan.PlanParameters{}, generic.NewValidationError("body", fmt.Sprintf("failed to parse plan JSON: %v", err))
	}
	return f.FromJSON(pj)
}

// FromJSON converts PlanJSON to PlanParameters, running both validation
// stages.
func (f *PlanFactory) FromJSON(pj PlanJSON) (paymentplan.PlanParameters, error) {
	if err := f.Validator.Struct(pj); err != nil {
		return paymentplan.PlanParameters{}, err
	}

	// Shape validation guarantees every value below parses.
	params := paymentplan.PlanParameters{
		TotalCourseValue: generic.MustParseMoney(pj.TotalCourseValue.String()),
		Fees: paymentplan.Fees{
			Materials: optionalMoney(pj.Fees.Materials),
			Admin:     optionalMoney(pj.Fees.Admin),
			Other:     optionalMoney(pj.Fees.Other),
		},
		CommissionRate:      decimal.RequireFromString(pj.CommissionRate.String()),
		GSTInclusive:        pj.GSTInclusive,
		InstallmentCount:    pj.InstallmentCount,
		Frequency:           paymentplan.Frequency(pj.Frequency),
		StudentLeadTimeDays: pj.StudentLeadTimeDays,
	}
	if pj.FirstDueDate != "" {
		params.FirstDueDate = generic.MustParseDate(pj.FirstDueDate)
	}
	if ip := pj.InitialPayment; ip != nil {
		params.InitialPayment = &paymentplan.InitialPayment{
			Amount:  generic.MustParseMoney(ip.Amount.String()),
			DueDate: generic.MustParseDate(ip.DueDate),
			Paid:    ip.Paid,
		}
	}

	return paymentplan.NewPlanParameters(params)
}

// ToJSON converts PlanParameters to PlanJSON.
func (f *PlanFactory) ToJSON(p paymentplan.PlanParameters) PlanJSON {
	pj := PlanJSON{
		TotalCourseValue: json.Number(p.TotalCourseValue.String()),
		Fees: FeesJSON{
			Materials: json.Number(p.Fees.Materials.String()),
			Admin:     json.Number(p.Fees.Admin.String()),
			Other:     json.Number(p.Fees.Other.String()),
		},
		CommissionRate:      json.Number(p.CommissionRate.String()),
		GSTInclusive:        p.GSTInclusive,
		InstallmentCount:    p.InstallmentCount,
		Frequency:           string(p.Frequency),
		StudentLeadTimeDays: p.StudentLeadTimeDays,
	}
	if !p.FirstDueDate.IsZero() {
		pj.FirstDueDate = p.FirstDueDate.String()
	}
	if ip := p.InitialPayment; ip != nil {
		pj.InitialPayment = &InitialPaymentJSON{
			Amount:  json.Number(ip.Amount.String()),
			DueDate: ip.DueDate.String(),
			Paid:    ip.Paid,
		}
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func optionalMoney(n json.Number) generic.Money {
	if n == "" {
		return generic.Zero
	}
	return generic.MustParseMoney(n.String())
}
