package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Envelope statuses.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// envelope is the JSON body of every API response.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func success(w http.ResponseWriter, message string, fields envelope) {
	body := envelope{"status": statusSuccess, "message": message}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// errorBody renders err as an error envelope. Stage, print output and
// source position are included when err carries them.
func errorBody(err error) envelope {
	body := envelope{
		"status": statusError,
		"kind":   core.KindOf(err),
	}
	e, ok := core.AsError(err)
	if !ok {
		body["message"] = err.Error()
		return body
	}
	body["message"] = e.Message()
	if e.Op != "" {
		body["stage"] = e.Op
	}
	if e.Diagnostics != "" {
		body["print_output"] = e.Diagnostics
	}
	if e.Line > 0 {
		body["line"] = e.Line
		body["column"] = e.Column
	}
	return body
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := core.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	} else {
		h.logger.Debug("request rejected",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorBody(err))
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Errorf(core.KindInvalidArgument, "request", "request body exceeds %d bytes", tooLarge.Limit)
		}
		return core.Wrap(err, core.KindInvalidArgument, "request", "malformed request body")
	}
	return nil
}
