package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookSecretHeader is the header VAPI sends with the server secret.
const WebhookSecretHeader = "X-Vapi-Secret"

// WebhookSecret rejects tool calls whose X-Vapi-Secret header does not match
// secret. An empty secret disables the check.
func WebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			slog.Warn("webhook secret mismatch",
				"path", c.Request.URL.Path,
				"request_id", GetRequestID(c),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}
