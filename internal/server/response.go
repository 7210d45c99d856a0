package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Common error messages
const (
	ErrInvalidUpload  = "Invalid upload"
	ErrUploadTooLarge = "Upload too large"
	ErrSerialize      = "Failed to render output"
	ErrCancelled      = "Extraction cancelled"
	ErrRateLimited    = "Too many extractions, retry later"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Status:  http.StatusText(statusCode),
		Message: message,
	})
}

// respondBadRequest sends a 400 Bad Request response
func respondBadRequest(c *gin.Context, message string) {
	respondWithError(c, http.StatusBadRequest, message)
}

// respondInternalServerError sends a 500 Internal Server Error response
func respondInternalServerError(c *gin.Context, message string) {
	respondWithError(c, http.StatusInternalServerError, message)
}
