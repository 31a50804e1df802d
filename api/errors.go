package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

// statusFor maps domain error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch generic.KindOf(err) {
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindInvalidState, generic.KindConflict:
		return http.StatusConflict
	case generic.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case generic.KindUnauthorized:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError hides internal causes from clients.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := generic.KindOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: "Internal error", Code: string(generic.KindInternal)})
		return
	}
	msg := err.Error()
	var ge *generic.Error
	if errors.As(err, &ge) && ge.Message != "" {
		msg = ge.Message
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: string(kind)})
}

// =============================================================================
// VALIDATION
// =============================================================================

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

// FieldError is one failed field in a 400 response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func validationDetails(err error) []FieldError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return []FieldError{{Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, FieldError{Field: e.Field(), Message: fieldMessage(e)})
	}
	return out
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "datetime":
		return e.Field() + " must be a date (YYYY-MM-DD)"
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "gt":
		return e.Field() + " must be greater than " + e.Param()
	case "gte":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " is too long"
	}
	return e.Field() + " is invalid"
}
