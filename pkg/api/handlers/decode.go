package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"mercator-hq/exporter/pkg/export"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return v
}

// decodeJSON strictly decodes a single JSON object from r into dst and
// validates it. Failures are returned as *export.ValidationError.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return export.NewValidationError("body", "request body is required")
		}
		return &export.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error(), Cause: err}
	}
	if dec.More() {
		return export.NewValidationError("body", "request body must be a single JSON object")
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &export.ValidationError{Field: "body", Reason: err.Error(), Cause: err}
	}
	fe := verrs[0]
	reason := fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	if fe.Tag() == "required" {
		reason = fe.Field() + " is required"
	} else if fe.Param() != "" {
		reason = fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return &export.ValidationError{Field: fe.Field(), Reason: reason, Cause: err}
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &export.ValidationError{Field: name, Reason: fmt.Sprintf("%s must be an integer", name), Cause: err}
	}
	return n, nil
}
