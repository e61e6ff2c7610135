// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

// Package validation provides struct validation using go-playground/validator v10.
// It exposes a thread-safe singleton validator with custom tags used by the
// policy settings and the HTTP request types:
//
//   - policyid: lower snake_case identifier
//   - accesslevel: metadata_only, preview or full_access
//   - country: two-letter upper case country code
//
// Example:
//
//	if err := validation.ValidateStruct(&req); err != nil {
//	    apiErr := err.ToAPIError()
//	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
//	    return
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	policyIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
)

// ValidationError is a single field failure. Field is the request or
// configuration key, not the Go field name, when the struct is tagged.
type ValidationError struct {
	field   string
	message string
}

func (e *ValidationError) Field() string { return e.field }

func (e *ValidationError) Error() string { return e.message }

// RequestValidationError represents a collection of validation errors.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the slice of validation errors.
func (ve *RequestValidationError) Errors() []ValidationError {
	return ve.errors
}

// Error implements the error interface, returning a combined error message.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}

	messages := make([]string, 0, len(ve.errors))
	for _, err := range ve.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// APIError is the code/message pair rendered by the HTTP layer.
type APIError struct {
	Code    string
	Message string
}

// ToAPIError converts validation errors to an APIError.
func (ve *RequestValidationError) ToAPIError() *APIError {
	if len(ve.errors) == 0 {
		return &APIError{Code: "validation_error", Message: "Validation failed"}
	}
	if len(ve.errors) == 1 {
		return &APIError{Code: "validation_error", Message: ve.errors[0].message}
	}

	messages := make([]string, 0, len(ve.errors))
	for _, err := range ve.errors {
		messages = append(messages, fmt.Sprintf("%s: %s", err.field, err.message))
	}
	return &APIError{Code: "validation_error", Message: strings.Join(messages, "; ")}
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(wireName)

		_ = validate.RegisterValidation("policyid", func(fl validator.FieldLevel) bool {
			return policyIDPattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("accesslevel", func(fl validator.FieldLevel) bool {
			switch fl.Field().String() {
			case "metadata_only", "preview", "full_access":
				return true
			}
			return false
		})
		_ = validate.RegisterValidation("country", func(fl validator.FieldLevel) bool {
			return countryPattern.MatchString(fl.Field().String())
		})
	})

	return validate
}

// ValidateStruct validates a struct using the singleton validator.
// Returns nil if validation passes, or *RequestValidationError if validation fails.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{
			errors: []ValidationError{{field: "unknown", message: err.Error()}},
		}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fieldErr := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fieldErr.Field(),
			message: translateError(fieldErr),
		}
	}

	return &RequestValidationError{errors: fieldErrors}
}

// wireName reports json names for request bodies and koanf keys for
// configuration sections so messages match what the caller actually sent.
func wireName(f reflect.StructField) string {
	for _, key := range []string{"json", "koanf"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		if name == "-" {
			continue
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

var errorMessageTemplates = map[string]string{
	"required":    "%s is required",
	"ip":          "%s must be a valid IP address",
	"policyid":    "%s must be a lower snake_case identifier",
	"accesslevel": "%s must be one of: metadata_only preview full_access",
	"country":     "%s must be a two-letter country code",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

// translateError converts a validator.FieldError to a human-readable message.
func translateError(fe validator.FieldError) string {
	field := fe.Field()
	tag := fe.Tag()
	param := fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	isString := fe.Kind().String() == "string"
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
