package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// maxPhoneDigits is the E.164 upper bound.
const maxPhoneDigits = 15

var (
	validate *validator.Validate
	once     sync.Once

	clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

// Get returns the shared validator with the messaging tags registered:
//
//	phone  separators (space, dash, dot, parentheses, leading +) around 1-15 digits
//	clock  a 24h wall-clock time written as HH:MM
func Get() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// Registration only fails on an empty tag or nil func.
		_ = validate.RegisterValidation("phone", isPhone)
		_ = validate.RegisterValidation("clock", isClock)
	})
	return validate
}

func isPhone(fl validator.FieldLevel) bool {
	digits := 0
	for i, r := range fl.Field().String() {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits > 0 && digits <= maxPhoneDigits
}

func isClock(fl validator.FieldLevel) bool {
	return clockPattern.MatchString(fl.Field().String())
}

// Validate validates a struct and joins every field failure into one error.
func Validate(s interface{}) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s %s", fieldPath(e), describe(e)))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// fieldPath drops the top-level struct name so nested recipients read as recipients[3].phone.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.Replace(e.Param(), " ", " is ", 1))
	case "phone":
		return fmt.Sprintf("must be a phone number of at most %d digits", maxPhoneDigits)
	case "clock":
		return "must be a time formatted as HH:MM"
	case "timezone":
		return "must be an IANA timezone name"
	case "url":
		return "must be an absolute URL"
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s entries", e.Param())
		}
		return fmt.Sprintf("must be at least %s characters long", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed '%s' with value '%v'", e.Tag(), e.Value())
	}
}
