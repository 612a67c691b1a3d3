package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

var (
	ErrBodyTooLarge = errors.New("httpx: request body too large")
	ErrEmptyBody    = errors.New("httpx: request body is empty")
)

// ReadBody reads at most limit bytes from r.Body.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, ErrEmptyBody
	}
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// DecodeJSON reads a bounded body into dst and rejects unknown fields.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	body, err := ReadBody(r, limit)
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("httpx: decode body: %w", err)
	}
	if decoder.More() {
		return errors.New("httpx: decode body: trailing data")
	}
	return nil
}

// BodyError maps a ReadBody or DecodeJSON failure to the envelope.
func BodyError(err error) Error {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrEmptyBody):
		return NewError("invalid_request", "request body is required", http.StatusBadRequest)
	default:
		return NewError("invalid_json", "request body must be valid JSON", http.StatusBadRequest)
	}
}
