// Package httputil holds the JSON helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "attestor/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; verification requests are tiny.
const maxBodyBytes = 64 << 10

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into a JSON error response. Internal
// errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}

	var de *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &de) && de.Message != "" {
		body["error_description"] = de.Message
	}
	WriteJSON(w, StatusFor(code), body)
}

// StatusFor maps a domain error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into T, rejecting unknown fields and trailing data.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	if dec.More() {
		return v, dErrors.New(dErrors.CodeBadRequest, "unexpected data after JSON body")
	}
	return v, nil
}

// DecodeOrWrite decodes the body and writes a 400 on failure. The boolean
// reports whether the handler should continue.
func DecodeOrWrite[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, requestID string) (T, bool) {
	v, err := Decode[T](r)
	if err != nil {
		if logger != nil {
			logger.WarnContext(r.Context(), "rejected request body",
				"request_id", requestID,
				"error", err,
			)
		}
		WriteError(w, err)
		return v, false
	}
	return v, true
}

// Validatable request bodies check themselves after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the body and runs Validate when *T implements it.
// It writes the error response itself; the boolean reports whether the
// handler should continue.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, requestID string) (*T, bool) {
	v, ok := DecodeOrWrite[T](w, r, logger, requestID)
	if !ok {
		return nil, false
	}
	if val, isValidatable := any(&v).(Validatable); isValidatable {
		if err := val.Validate(); err != nil {
			if logger != nil {
				logger.WarnContext(r.Context(), "rejected request",
					"request_id", requestID,
					"error", err,
				)
			}
			WriteError(w, err)
			return nil, false
		}
	}
	return &v, true
}
