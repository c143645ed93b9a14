package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags of v and converts failures into a
// 422 listing every offending field.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return svcerrors.Validation(err.Error())
	}

	fields := make(map[string]interface{}, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := describe(fe)
		fields[fe.Field()] = msg
		msgs = append(msgs, fe.Field()+": "+msg)
	}
	se := svcerrors.Validation(strings.Join(msgs, "; "))
	se.Details = map[string]interface{}{"fields": fields}
	return se
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "email":
		return "value is not a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "e164":
		return "must be an international phone number such as +380501234567"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
