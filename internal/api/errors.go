package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"slicesim/internal/history"
	"slicesim/internal/logging"
	"slicesim/internal/sim"
	"slicesim/internal/slice"
	"slicesim/internal/telemetry"
)

type errorBody struct {
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *telemetry.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, sim.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, sim.ErrNotFound), errors.Is(err, history.ErrNotFound), errors.Is(err, slice.ErrUnknownSlice):
		return http.StatusNotFound
	case errors.Is(err, sim.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Detail: err.Error()}
	var verr *telemetry.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, body)
}
