package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an id, reusing the caller's
// X-Request-ID when present, and stores a request-scoped logger.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)
		c.Set("logger", slog.With("request_id", requestID))
		c.Next()
	}
}

// Logger returns the request-scoped logger, or the default one.
func Logger(c *gin.Context) *slog.Logger {
	if val, exists := c.Get("logger"); exists {
		if l, ok := val.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
