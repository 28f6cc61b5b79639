package errs

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Body is the JSON error payload exchanged between the HTTP handlers and clients.
type Body struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// HTTPStatus maps an error from the taxonomy to a response status.
func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotHost):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRoomFull):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteHTTP writes err as a JSON body with the mapped status.
func WriteHTTP(w http.ResponseWriter, err error) {
	b := Body{Error: err.Error()}
	var v *ValidationError
	if errors.As(err, &v) {
		b.Field, b.Reason = v.Field, v.Reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(b)
}

// FromResponse turns a non-2xx response into an error from the taxonomy. op names the call
// for the error message.
func FromResponse(op string, resp *http.Response) error {
	var b Body
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &b)
	switch resp.StatusCode {
	case http.StatusBadRequest:
		if b.Field != "" {
			return Invalid(b.Field, b.Reason)
		}
		return Invalid("request", b.Error)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", op, ErrRoomFull)
	}
	return Network(op, fmt.Errorf("unexpected status code: %d %s", resp.StatusCode, b.Error))
}
