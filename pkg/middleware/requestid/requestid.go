package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request ID across service boundaries. Callers may
// supply their own value to correlate retries and upstream hops.
const Header = "X-Request-ID"

const contextKey = "request_id"

// Middleware propagates the caller's request ID or mints a fresh one,
// exposing it on the Gin context and echoing it on the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(contextKey, id)
		c.Writer.Header().Set(Header, id)

		c.Next()
	}
}

// Value returns the request ID bound to the context, or an empty string
// before the middleware has run.
func Value(c *gin.Context) string {
	return c.GetString(contextKey)
}
