// Package middleware provides the gin middleware of the HTTP API.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/mhsanaei/xray-daemon/web/entity"

	"github.com/gin-gonic/gin"
)

const APIKeyHeader = "X-API-KEY"

// APIKeyAuth rejects requests whose X-API-KEY header does not match apiKey.
// An empty apiKey rejects everything.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, entity.Msg{Msg: "API key is required"})
			return
		}
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, entity.Msg{Msg: "Invalid API key"})
			return
		}
		c.Next()
	}
}
