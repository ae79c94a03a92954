package apierrors

import (
	"github.com/gin-gonic/gin"
)

// APIError represents the JSON error response structure
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error sends an error response using a registered error code
func Error(c *gin.Context, code string) {
	ErrorWithMessage(c, code, Registry.Message(code))
}

// ErrorWithMessage sends an error response with a custom message
func ErrorWithMessage(c *gin.Context, code, message string) {
	ErrorWithDetails(c, code, message, nil)
}

// ErrorWithDetails sends an error response with extra top-level fields next
// to "error", e.g. current_stage and valid_targets for a rejected transition.
func ErrorWithDetails(c *gin.Context, code, message string, details gin.H) {
	body := gin.H{}
	for k, v := range details {
		body[k] = v
	}
	body["error"] = APIError{Code: code, Message: message}
	c.AbortWithStatusJSON(Registry.HTTPStatus(code), body)
}
