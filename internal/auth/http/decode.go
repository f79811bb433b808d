package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads and validates a JSON body. On failure the 400 response has
// already been written and decode returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		authsdk.ErrValidation.WithDetails(map[string]string{"body": err.Error()}).WriteError(w)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		authsdk.ErrValidation.WithDetails(fieldErrors(err)).WriteError(w)
		return false
	}
	return true
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "is required"
		case "email":
			out[field] = "must be a valid email address"
		case "url":
			out[field] = "must be an absolute URL"
		case "min":
			out[field] = fmt.Sprintf("must be at least %s characters long", fe.Param())
		case "max":
			out[field] = fmt.Sprintf("must be at most %s characters long", fe.Param())
		case "len":
			out[field] = fmt.Sprintf("must be exactly %s characters long", fe.Param())
		case "oneof":
			out[field] = "must be one of: " + fe.Param()
		default:
			out[field] = "is invalid"
		}
	}
	return out
}
