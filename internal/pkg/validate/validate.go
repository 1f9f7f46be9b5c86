// Package validate holds the process-wide validator with english
// translations and the custom tags used for bot input and configuration
package validate

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Svc holds the validator and its translator
type Svc struct {
	Validator  *validator.Validate
	Translator ut.Translator
}

var (
	once sync.Once
	svc  *Svc
)

// Get returns the singleton, initializing it on first use
func Get() *Svc {
	once.Do(func() {
		loc := en.New()
		uni := ut.New(loc, loc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// prefer mapstructure names so messages match env keys
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("mapstructure")
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return strings.ToUpper(tag)
		})

		_ = en_translations.RegisterDefaultTranslations(v, trans)

		registerTag(v, trans, "tgphone", isPhone, "{0} must be '+' followed by digits")
		registerTag(v, trans, "digits", isDigits, "{0} must contain only digits")

		svc = &Svc{Validator: v, Translator: trans}
	})
	return svc
}

func registerTag(v *validator.Validate, trans ut.Translator, tag string, fn validator.Func, text string) {
	_ = v.RegisterValidation(tag, fn)
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error { return ut.Add(tag, text, true) },
		func(ut ut.Translator, fe validator.FieldError) string {
			s, _ := ut.T(tag, fe.Field())
			return s
		},
	)
}

func isPhone(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return len(s) > 1 && s[0] == '+' && allDigits(s[1:])
}

func isDigits(fl validator.FieldLevel) bool {
	return allDigits(fl.Field().String())
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Struct validates s and returns translated messages joined by "; "
func Struct(s any) error {
	return translate(Get().Validator.Struct(s))
}

// Var validates a single value against tag
func Var(value any, tag string) error {
	return translate(Get().Validator.Var(value, tag))
}

// FieldError is one translated validation failure
type FieldError struct {
	Field   string
	Message string
}

// Errors is a list of translated failures
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Message)
	}
	return strings.Join(parts, "; ")
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	out := make(Errors, 0, len(ves))
	for _, fe := range ves {
		out = append(out, FieldError{Field: fe.Field(), Message: fe.Translate(Get().Translator)})
	}
	return out
}
