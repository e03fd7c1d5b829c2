package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "licsrv/internal/errors"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 64 << 10

// RequestValidator decodes JSON bodies and validates them with struct tags.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that reports fields by their JSON names.
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Decode reads the JSON body of r into dst and validates it. Failures are
// returned as *apierrors.APIError with status 400.
func (rv *RequestValidator) Decode(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return apierrors.InvalidRequestWithError(err)
	}
	return rv.Struct(dst)
}

// Struct validates v.
func (rv *RequestValidator) Struct(v any) error {
	err := rv.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	out := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(out)
}

func formatValidationError(err validator.FieldError) string {
	field, param := err.Field(), err.Param()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "printascii":
		return fmt.Sprintf("%s must contain printable ASCII only", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}
