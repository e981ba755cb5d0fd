package service

import (
	"errors"
	"sort"
	"strings"
)

// ErrQRCodeUnavailable signals that a link exists but has no stored QR image.
var ErrQRCodeUnavailable = errors.New("qr code not generated")

// ValidationError carries field-scoped messages for rejected input.
type ValidationError struct {
	Fields map[string]string
	err    error
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the storage error behind a conflict, if any.
func (e *ValidationError) Unwrap() error { return e.err }
