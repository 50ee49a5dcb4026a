package response

import (
	"net/http"

	"coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"
	"coderunner/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

// Success sends a successful response with data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.Success,
		Message: "Success",
		Data:    data,
		TraceID: getTraceID(c),
	})
}

// Error sends an error response.
// Caller errors are logged at warn, everything else at error with the stack.
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)

	if customErr.Code.IsInvalidInput() || customErr.Code.HTTPStatus() == http.StatusTooManyRequests {
		logger.Warn(c.Request.Context(), "request rejected",
			zap.Int("code", int(customErr.Code)),
			zap.String("message", customErr.Error()),
		)
	} else {
		logger.Error(c.Request.Context(), "request error",
			zap.Int("code", int(customErr.Code)),
			zap.String("message", customErr.Error()),
			zap.Any("details", customErr.Details),
			zap.String("stack", customErr.Stack),
		)
	}

	var details interface{}
	if len(customErr.Details) > 0 {
		details = customErr.Details
	}
	c.JSON(customErr.Code.HTTPStatus(), Response{
		Code:    customErr.Code,
		Message: customErr.Error(),
		Details: details,
		TraceID: getTraceID(c),
	})
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}
	Error(c, errors.New(code).WithMessage(message))
}

// BadRequest sends a 400 bad request error
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

// ServiceUnavailable sends a 503 with an optional payload describing why.
func ServiceUnavailable(c *gin.Context, data interface{}) {
	c.JSON(http.StatusServiceUnavailable, Response{
		Code:    errors.ServiceUnavailable,
		Message: errors.ServiceUnavailable.Message(),
		Data:    data,
		TraceID: getTraceID(c),
	})
}

func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(contextkey.TraceID.String()); exists {
		if s, ok := traceID.(string); ok {
			return s
		}
	}
	return ""
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// AbortWithErrorCode aborts the request with error code
func AbortWithErrorCode(c *gin.Context, code errors.ErrorCode, message string) {
	ErrorWithCode(c, code, message)
	c.Abort()
}
