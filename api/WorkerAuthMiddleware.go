package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jcoop32/applied/cmd/flags"
)

// WorkerAuthMiddleware authenticates executor-to-service calls (status
// callbacks, runner task handoffs) with the shared worker secret. When no
// secret is configured the whole worker surface is disabled.
func WorkerAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if flags.WorkerSecret == "" {
			RespondError(c, http.StatusServiceUnavailable, "Worker surface is disabled")
			c.Abort()
			return
		}
		got := c.GetHeader("X-Worker-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(flags.WorkerSecret)) != 1 {
			RespondError(c, http.StatusUnauthorized, "Invalid worker secret")
			c.Abort()
			return
		}
		c.Next()
	}
}
