package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vetclinic-core/internal/clinic"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names, not Go ones.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs its validate tags. Failures come
// back as *clinic.ValidationError so they share the engines' error path.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return clinic.Invalid("body", "could not parse JSON")
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return clinic.Invalid(fe.Field(), describe(fe))
		}
		return clinic.Invalid("body", err.Error())
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "numeric":
		return "must be a decimal number"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func urlID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, clinic.Invalid(name, "must be a valid UUID")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}

// handleError maps the engine error taxonomy onto HTTP status codes.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation  *clinic.ValidationError
		conflict    *clinic.ConflictError
		transition  *clinic.InvalidTransitionError
		state       *clinic.InvalidStateError
		overpayment *clinic.OverpaymentError
		notFound    *clinic.NotFoundError
		busy        *clinic.BusyError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Field: validation.Field, Details: validation.Reason})
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, ErrorResponse{Error: notFound.Resource + "_not_found", Details: err.Error()})
	case errors.As(err, &conflict):
		id := conflict.AppointmentID
		writeError(w, http.StatusConflict, ErrorResponse{Error: "slot_conflict", Details: err.Error(), ConflictingID: &id})
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, ErrorResponse{Error: "invalid_transition", Details: err.Error()})
	case errors.As(err, &state):
		writeError(w, http.StatusConflict, ErrorResponse{Error: "invalid_state", Details: err.Error()})
	case errors.As(err, &overpayment):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "overpayment", Details: err.Error()})
	case errors.As(err, &busy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: "busy", Details: "resource is busy, retry shortly"})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
}
