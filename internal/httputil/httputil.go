// Package httputil holds the request parsing and JSON response helpers of
// the admin API.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/neboloop/browserpool/internal/browser"
	"github.com/neboloop/browserpool/internal/profile"
)

// Parse parses the request into the given struct.
// Supports:
// - Query parameters via `form:"name"` struct tag
// - JSON body (for POST/PUT/PATCH), which wins over the query
func Parse(r *http.Request, v any) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return nil
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}
		if formTag := typ.Field(i).Tag.Get("form"); formTag != "" {
			if queryVal := r.URL.Query().Get(formTag); queryVal != "" {
				setFieldValue(field, queryVal)
			}
		}
	}

	if r.Body != nil && r.ContentLength > 0 {
		contentType := r.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "application/json") || contentType == "" {
			if err := json.NewDecoder(r.Body).Decode(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// setFieldValue sets a struct field value from a string
func setFieldValue(field reflect.Value, value string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	}
}

// OkJSON writes a JSON response with 200 OK status
func OkJSON(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Reason is "busy" or "locked" when a pool could not serve the task.
	Reason string `json:"reason,omitempty"`
}

// Error writes err with the status code that matches it.
func Error(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Code: StatusFor(err), Message: err.Error()}
	var ue *browser.UnavailableError
	if errors.As(err, &ue) {
		resp.Reason = ue.Kind.String()
	}
	WriteJSON(w, resp.Code, resp)
}

// ErrorWithCode writes an error response with a specific status code
func ErrorWithCode(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, ErrorResponse{Code: code, Message: message})
}

// StatusFor maps pool and validation errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, profile.ErrInvalidID):
		return http.StatusBadRequest
	case browser.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, browser.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
