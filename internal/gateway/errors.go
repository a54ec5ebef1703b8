package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrNetwork        = errors.New("network failure")
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
	ErrClosed         = errors.New("gateway closed")
)

type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: not found", e.Collection)
	}
	return fmt.Sprintf("%s/%s: not found", e.Collection, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type ValidationError struct {
	Collection string
	Message    string
	Fields     map[string]string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Collection)
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString("validation failed")
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NetworkError is a transient transport failure: unreachable, timed out, or
// still failing after retries.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": network failure"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrValidation:
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
	case ErrNetwork:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}
