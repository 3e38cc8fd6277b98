package domain

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks struct tags and converts failures into a *ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: []FieldError{{Field: "input", Error: err.Error()}}}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Error: describe(fe)})
	}
	return &ValidationError{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "excludesall":
		return "must not contain any of " + fe.Param()
	}
	return "failed " + fe.Tag()
}

// Validate checks the identity key.
func (k ActivityKey) Validate() error {
	return Validate(k)
}

// Validate checks the leaderboard scope.
func (s ActivityScope) Validate() error {
	return Validate(s)
}

// ValidateID checks a bare identifier (class, lesson, student or teacher id).
func ValidateID(field, value string) error {
	if err := validate.Var(value, "required,max=128,excludesall=:/"); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Fields: []FieldError{{Field: field, Error: describe(verrs[0])}}}
		}
		return &ValidationError{Fields: []FieldError{{Field: field, Error: err.Error()}}}
	}
	return nil
}
