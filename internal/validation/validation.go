// Package validation decodes form submissions into typed structs and checks
// them against `validate` struct tags.
//
// Field names reported in Errors are the `form` tag names, so a failure on
// CustomerID is reported as "customerId", the key the client submitted.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"

	"github.com/Additional-Code/invoicedesk/internal/money"
)

// Module provides a shared Validator to Fx.
var Module = fx.Provide(New)

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is the structured failure returned when a submission does not match
// its schema. It lists every offending field.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+" "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the offending field names in sorted order.
func (e Errors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, fe := range e {
		fields = append(fields, fe.Field)
	}
	sort.Strings(fields)
	return fields
}

// Has reports whether field is among the offending fields.
func (e Errors) Has(field string) bool {
	for _, fe := range e {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Map returns field -> message, suitable for error details.
func (e Errors) Map() map[string]any {
	m := make(map[string]any, len(e))
	for _, fe := range e {
		m[fe.Field] = fe.Message
	}
	return m
}

// Validator bundles the form decoder and the struct validator.
type Validator struct {
	decoder  *form.Decoder
	validate *validator.Validate
}

// New builds a Validator with the custom "amount" tag registered.
func New() (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	if err := v.RegisterValidation("amount", validateAmount); err != nil {
		return nil, fmt.Errorf("register amount validation: %w", err)
	}

	return &Validator{
		decoder:  form.NewDecoder(),
		validate: v,
	}, nil
}

// Decode fills dst from values, trims string fields and validates the result.
// A schema mismatch is returned as Errors.
func (v *Validator) Decode(values url.Values, dst any) error {
	if err := v.decoder.Decode(dst, values); err != nil {
		var decodeErrs form.DecodeErrors
		if errors.As(err, &decodeErrs) {
			out := make(Errors, 0, len(decodeErrs))
			for field := range decodeErrs {
				out = append(out, FieldError{Field: field, Message: "is malformed"})
			}
			return out
		}
		return fmt.Errorf("decode form: %w", err)
	}
	trimStrings(dst)
	return v.Struct(dst)
}

// Struct validates an already populated struct.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.Join(strings.Fields(fe.Param()), ", "))
	case "amount":
		return "must be a number"
	case "max":
		return fmt.Sprintf("must not exceed %s characters", fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s:%s", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}

func validateAmount(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	_, err := money.ParseCents(fl.Field().String())
	return err == nil
}

func trimStrings(dst any) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}
