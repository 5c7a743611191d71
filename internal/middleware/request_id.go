package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/huangang/backoffice/backend/pkg/logger"
)

const HeaderRequestID = "X-Request-ID"

// RequestID propagates a caller supplied X-Request-ID or generates one, and
// exposes it to handlers, the request logger and audit records.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(logger.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID returns the current request id, if any.
func GetRequestID(c *gin.Context) string {
	return c.GetString(logger.RequestIDKey)
}
