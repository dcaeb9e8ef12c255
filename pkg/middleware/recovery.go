package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"vapidispatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery turns a panic into a 500 in the tenant API error shape. Aborted
// connections are re-panicked so net/http can drop them quietly.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logger.Error(c.Request.Context(), "panic recovered",
				"panic", fmt.Sprint(rec),
				"method", c.Request.Method,
				"route", c.FullPath(),
				"stack", string(debug.Stack()),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "internal",
				"message":    "Internal server error",
				"request_id": GetRequestID(c),
			})
		}()
		c.Next()
	}
}
