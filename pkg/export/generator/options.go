package generator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"mercator-hq/exporter/pkg/export"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// commonOptions are accepted by every format.
type commonOptions struct {
	SplitPerRecord bool `json:"splitPerRecord"`
}

// decodeOptions strictly decodes raw into dst and runs struct validation.
// Empty or null input leaves dst at its defaults.
func decodeOptions(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &export.ValidationError{Field: "options", Reason: describeDecodeError(err), Cause: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return export.NewValidationError("options", "options must be a single JSON object")
	}

	if err := validate.Struct(dst); err != nil {
		return &export.ValidationError{Field: "options", Reason: describeValidationError(err), Cause: err}
	}
	return nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("option %q has the wrong type (want %s)", typeErr.Field, typeErr.Type)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return "unknown option " + strings.TrimPrefix(msg, "json: unknown field ")
	}
	return "options are not valid JSON: " + msg
}

func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("option %s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("option %s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// parseDelimiter maps the delimiter option to a rune. "tab" and "\t" both
// select a tab.
func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case "tab", "\t":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError {
		return 0, export.NewValidationError("options", fmt.Sprintf("delimiter %q must be a single character", s))
	}
	if r == '"' || r == '\r' || r == '\n' {
		return 0, export.NewValidationError("options", fmt.Sprintf("delimiter %q is not allowed", s))
	}
	return r, nil
}
