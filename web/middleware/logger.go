package middleware

import (
	"net/http"
	"time"

	"github.com/mhsanaei/xray-daemon/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request once it has been served.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= http.StatusInternalServerError {
			logger.Warningf("%s %s %d %v %s", c.Request.Method, c.Request.URL.Path, status, latency, c.Errors.String())
			return
		}
		logger.Debugf("%s %s %d %v", c.Request.Method, c.Request.URL.Path, status, latency)
	}
}
