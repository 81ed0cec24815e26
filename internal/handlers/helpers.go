package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/chantier/internal/interfaces"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID returns a context carrying the resolved caller identity
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the caller identity resolved by the auth middleware
func UserID(r *http.Request) string {
	if v, ok := r.Context().Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, interfaces.KindInvalidInput, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteStarted writes a standard "started" JSON response for async operations.
func WriteStarted(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": message,
	})
}

// WriteError writes a standard error JSON response with a stable kind.
func WriteError(w http.ResponseWriter, statusCode int, kind interfaces.ErrorKind, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"kind":   string(kind),
		"error":  message,
	})
}

// WriteServiceError maps a service error to its HTTP status and writes it.
func WriteServiceError(w http.ResponseWriter, err error) error {
	kind := interfaces.KindOf(err)
	return WriteError(w, StatusForKind(kind), kind, err.Error())
}

// StatusForKind returns the HTTP status used for an error kind
func StatusForKind(kind interfaces.ErrorKind) int {
	switch kind {
	case interfaces.KindInvalidInput:
		return http.StatusBadRequest
	case interfaces.KindUnauthorized:
		return http.StatusUnauthorized
	case interfaces.KindNotFound:
		return http.StatusNotFound
	case interfaces.KindDimensionMismatch:
		return http.StatusConflict
	case interfaces.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case interfaces.KindInvalidBackendResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// DecodeAndValidate reads a JSON body into dst and runs its validate tags.
// On failure it writes a 400 response and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		message := "Invalid JSON body"
		if errors.Is(err, io.EOF) {
			message = "Request body is required"
		}
		WriteError(w, http.StatusBadRequest, interfaces.KindInvalidInput, message)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		WriteError(w, http.StatusBadRequest, interfaces.KindInvalidInput, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens validator errors into one readable line
func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err.Error()
	}

	parts := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(parts, "; ")
}
