package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jiliangzhu/MarketPulse-X/internal/metrics"
)

func RequestCounter(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if reg == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		reg.RequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// RequireAdminToken guards mutating endpoints with the x-api-key header.
// An empty configured token disables the check (dev mode).
func RequireAdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if c.GetHeader("x-api-key") != token {
			Error(c, http.StatusUnauthorized, "invalid token", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
