package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tumf/oneoff-docker-runner/internal/archive"
	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/mount"
)

// Error codes returned in API responses
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInvalidMount      = "INVALID_MOUNT"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	ErrCodeExecutionTimeout  = "EXECUTION_TIMEOUT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	var decodeErr *mount.DecodeError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &validationErrs):
		apiErr = APIError{
			Code:    ErrCodeInvalidRequest,
			Message: "request validation failed",
			Details: validationDetails(validationErrs),
		}
		statusCode = http.StatusBadRequest

	case errors.As(err, &decodeErr):
		code := ErrCodeInvalidMount
		statusCode = http.StatusBadRequest
		if errors.Is(err, archive.ErrTooLarge) {
			code = ErrCodePayloadTooLarge
			statusCode = http.StatusRequestEntityTooLarge
		}
		apiErr = APIError{
			Code:    code,
			Message: err.Error(),
			Details: map[string]any{"volume": decodeErr.Key},
		}

	case errors.Is(err, mount.ErrInvalidSpec), errors.Is(err, mount.ErrDuplicateTarget):
		apiErr = APIError{
			Code:    ErrCodeInvalidMount,
			Message: err.Error(),
		}
		statusCode = http.StatusBadRequest

	case errors.Is(err, docker.ErrUnavailable):
		apiErr = APIError{
			Code:    ErrCodeEngineUnavailable,
			Message: err.Error(),
		}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, docker.ErrWaitTimeout):
		apiErr = APIError{
			Code:    ErrCodeExecutionTimeout,
			Message: err.Error(),
		}
		statusCode = http.StatusGatewayTimeout

	default:
		apiErr = APIError{
			Code:    ErrCodeInternalError,
			Message: err.Error(),
		}
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr)
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

func validationDetails(errs validator.ValidationErrors) map[string]any {
	details := make(map[string]any, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = "failed on '" + fe.Tag() + "'"
	}
	return details
}
