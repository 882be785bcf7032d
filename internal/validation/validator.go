// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/vigil/internal/models"
)

const codeValidation = "VALIDATION_ERROR"

var (
	instance     *validator.Validate
	instanceOnce sync.Once
)

// enumTag is a custom tag accepting the string values of one engine enum.
type enumTag struct {
	valid   func(string) bool
	message string
}

var enumTags = map[string]enumTag{
	"alert_type": {
		valid:   func(s string) bool { return models.AlertType(s).Valid() },
		message: "%s must be a known alert type",
	},
	"severity": {
		valid:   func(s string) bool { return models.Severity(s).Valid() },
		message: "%s must be one of: info warning critical emergency",
	},
	"alert_status": {
		valid:   func(s string) bool { return models.Status(s).Valid() },
		message: "%s must be one of: open acknowledged resolved archived",
	},
	"entity_type": {
		valid:   func(s string) bool { return models.EntityType(s).Valid() },
		message: "%s must be one of: user ip device",
	},
}

// GetValidator returns the process-wide validator with the enum tags
// registered. Messages name fields by their JSON key.
func GetValidator() *validator.Validate {
	instanceOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonName)
		for tag, e := range enumTags {
			valid := e.valid
			if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
				return valid(fl.Field().String())
			}); err != nil {
				panic(fmt.Sprintf("register validation %q: %v", tag, err))
			}
		}
		instance = v
	})
	return instance
}

func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// FieldError is one failed rule.
type FieldError struct {
	field   string
	tag     string
	param   string
	value   interface{}
	message string
}

// Field is the JSON name of the offending field.
func (e *FieldError) Field() string { return e.field }

// Tag is the rule that failed, e.g. "max".
func (e *FieldError) Tag() string { return e.tag }

// Param is the rule argument, e.g. "100" for max=100.
func (e *FieldError) Param() string { return e.param }

// Value is the rejected value.
func (e *FieldError) Value() interface{} { return e.value }

func (e *FieldError) Error() string { return e.message }

// RequestValidationError collects every failed rule of one struct.
type RequestValidationError struct {
	errors []FieldError
}

// Errors returns the failures in field order.
func (ve *RequestValidationError) Errors() []FieldError {
	return ve.errors
}

func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve.errors))
	for i := range ve.errors {
		msgs[i] = ve.errors[i].message
	}
	return strings.Join(msgs, "; ")
}

// APIError is the VALIDATION_ERROR body of a rejected request. Package api
// copies it into its own envelope.
type APIError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// ToAPIError builds the response body. A single failure reports its field,
// tag and value; several are listed under "fields".
func (ve *RequestValidationError) ToAPIError() *APIError {
	switch len(ve.errors) {
	case 0:
		return &APIError{Code: codeValidation, Message: "Validation failed"}
	case 1:
		e := ve.errors[0]
		return &APIError{
			Code:    codeValidation,
			Message: e.message,
			Details: map[string]interface{}{"field": e.field, "tag": e.tag, "value": e.value},
		}
	}

	fields := make([]map[string]interface{}, len(ve.errors))
	msgs := make([]string, len(ve.errors))
	for i, e := range ve.errors {
		fields[i] = map[string]interface{}{"field": e.field, "tag": e.tag, "message": e.message}
		msgs[i] = e.field + ": " + e.message
	}
	return &APIError{
		Code:    codeValidation,
		Message: strings.Join(msgs, "; "),
		Details: map[string]interface{}{"fields": fields},
	}
}

// ToModelError converts the failures into a models.ValidationError, which
// matches errors.Is(err, models.ErrValidation).
func (ve *RequestValidationError) ToModelError() *models.ValidationError {
	fields := make(map[string]string, len(ve.errors))
	for _, e := range ve.errors {
		fields[e.field] = e.message
	}
	return &models.ValidationError{Fields: fields}
}

// ValidateStruct checks s against its validate tags. It returns nil when s
// is valid.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fes validator.ValidationErrors
	if !errors.As(err, &fes) {
		// InvalidValidationError: s is not a struct.
		return &RequestValidationError{errors: []FieldError{{field: "unknown", tag: "unknown", message: err.Error()}}}
	}

	out := make([]FieldError, len(fes))
	for i, fe := range fes {
		out[i] = FieldError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			value:   fe.Value(),
			message: describe(fe),
		}
	}
	return &RequestValidationError{errors: out}
}

// plainMessages take the field name only.
var plainMessages = map[string]string{
	"required": "%s is required",
	"email":    "%s must be a valid email address",
	"ip":       "%s must be a valid IP address",
	"datetime": "%s must be a valid date/time in RFC3339 format",
}

// paramMessages take the field name and the rule argument.
var paramMessages = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

func describe(fe validator.FieldError) string {
	field, tag := fe.Field(), fe.Tag()
	if e, ok := enumTags[tag]; ok {
		return fmt.Sprintf(e.message, field)
	}
	if tmpl, ok := plainMessages[tag]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramMessages[tag]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}

	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch tag {
	case "min":
		return fmt.Sprintf("%s must be at least %s%s", field, fe.Param(), unit)
	case "max":
		return fmt.Sprintf("%s must be at most %s%s", field, fe.Param(), unit)
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}
