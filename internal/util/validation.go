package util

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var pairingCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared request validator. Field names in errors use
// the json tag so they match what clients sent.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("pairingcode", func(fl validator.FieldLevel) bool {
			return IsValidPairingCode(NormalizeCode(fl.Field().String()))
		})
	})
	return validate
}

// ValidationDetails flattens validator errors into field -> failed rule.
func ValidationDetails(err error) map[string]any {
	details := map[string]any{}
	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range errs {
			details[fe.Field()] = fe.Tag()
		}
	}
	return details
}

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// NormalizeCode upper-cases and trims user-typed pairing codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func IsValidPairingCode(code string) bool {
	return pairingCodeRegex.MatchString(code)
}
