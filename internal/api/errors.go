package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/cpd/internal/domain"
)

// problem is the error body returned by every endpoint.
type problem struct {
	Type      string            `json:"type"`
	Detail    string            `json:"detail"`
	Fields    map[string]string `json:"fields,omitempty"`
	Used      *int              `json:"attempts_used,omitempty"`
	Max       *int              `json:"attempts_max,omitempty"`
	Remaining *int              `json:"attempts_remaining,omitempty"`
	Requested *float64          `json:"requested_hours,omitempty"`
	Available *float64          `json:"available_hours,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, problem{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeValidation(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		name := fe.Namespace()
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		fields[name] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, problem{Type: "validation_failed", Detail: "request failed validation", Fields: fields})
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var exhausted *domain.AttemptsExhaustedError
	var overAllocated *domain.AllocationExceedsRecordError

	switch {
	case errors.As(err, &exhausted):
		remaining := 0
		writeJSON(w, http.StatusConflict, problem{
			Type: "attempts_exhausted", Detail: err.Error(),
			Used: &exhausted.Used, Max: &exhausted.Max, Remaining: &remaining,
		})
	case errors.As(err, &overAllocated):
		writeJSON(w, http.StatusUnprocessableEntity, problem{
			Type: "allocation_exceeds_record", Detail: err.Error(),
			Requested: &overAllocated.Requested, Available: &overAllocated.Available,
		})
	case errors.Is(err, domain.ErrAttemptsExhausted):
		writeError(w, http.StatusConflict, "attempts_exhausted", err.Error())
	case errors.Is(err, domain.ErrAllocationExceedsRecord):
		writeError(w, http.StatusUnprocessableEntity, "allocation_exceeds_record", err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrMalformedSubmission):
		writeError(w, http.StatusUnprocessableEntity, "malformed_submission", err.Error())
	case errors.Is(err, domain.ErrAmbiguousMapping):
		writeError(w, http.StatusUnprocessableEntity, "ambiguous_mapping", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "caller does not own this resource")
	case errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version_conflict", err.Error())
	case errors.Is(err, domain.ErrCodeGenerationExhausted), errors.Is(err, domain.ErrTransient):
		h.log.Warn("request failed with retryable error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "try_again", err.Error())
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
