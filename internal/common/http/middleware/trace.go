// Package middleware holds the gin middleware shared by HTTP entrypoints.
package middleware

import (
	"context"
	"strings"

	"coderunner/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	maxIDLength = 128
)

// TraceContextMiddleware ensures trace and request ids are in context and
// response headers, and records the client address for logs.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := headerID(c, traceIDHeader)
		requestID := headerID(c, requestIDHeader)

		c.Set(contextkey.TraceID.String(), traceID)
		c.Set(contextkey.RequestID.String(), requestID)

		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		ctx = context.WithValue(ctx, contextkey.ClientIP, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		c.Writer.Header().Set(traceIDHeader, traceID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

// headerID returns a caller supplied id or a fresh uuid when it is missing
// or unreasonably long.
func headerID(c *gin.Context, header string) string {
	id := strings.TrimSpace(c.GetHeader(header))
	if id == "" || len(id) > maxIDLength {
		return uuid.NewString()
	}
	return id
}

// RequestIDFromContext returns the request id set by TraceContextMiddleware.
func RequestIDFromContext(c *gin.Context) string {
	return c.GetString(contextkey.RequestID.String())
}
