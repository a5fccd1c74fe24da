package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin restricts websocket upgrades to the allowed origins. An empty list
// keeps the permissive behaviour for local development.
func Origin(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			// Non-browser clients don't send Origin.
			c.Next()
			return
		}
		for _, a := range allowed {
			if strings.EqualFold(origin, a) {
				c.Next()
				return
			}
		}
		c.AbortWithStatus(http.StatusForbidden)
	}
}
