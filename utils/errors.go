package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithUnsupportedMedia sends a 415 for unknown document formats
func RespondWithUnsupportedMedia(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnsupportedMediaType, "unsupported_format", message, nil)
}

// RespondWithSessionUnavailable sends a 409 indicating the session could not
// be loaded; the caller should initialize it or report not-found.
func RespondWithSessionUnavailable(c *gin.Context, message string) {
	RespondWithError(c, http.StatusConflict, "session_unavailable", message, nil)
}

// RespondWithRetryable sends a 503 for transient backend failures the caller
// may retry.
func RespondWithRetryable(c *gin.Context, message string, details interface{}) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		ErrorCode: "backend_unavailable",
		Message:   message,
		Details:   details,
		Retryable: true,
	})
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}
