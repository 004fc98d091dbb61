package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Errors  any    `json:"errors"`
}

// FieldErrors maps a request field to its validation messages.
type FieldErrors map[string][]string

func (fe FieldErrors) add(field, msg string) { fe[field] = append(fe[field], msg) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondSuccess(w http.ResponseWriter, message string, data any) {
	if data == nil {
		data = map[string]any{}
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

// respondError writes a failure envelope. errs may be nil.
func respondError(w http.ResponseWriter, code int, message string, errs any) {
	writeJSON(w, code, Envelope{Success: false, Message: message, Errors: errs})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("request body must be valid JSON")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
