package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestEngine(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestLogger(), APIKeyAuth(apiKey))
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return engine
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		header string
		status int
	}{
		{"valid key", "secret", "secret", http.StatusNoContent},
		{"missing key", "secret", "", http.StatusUnauthorized},
		{"wrong key", "secret", "guess", http.StatusUnauthorized},
		{"unconfigured key", "", "anything", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			w := httptest.NewRecorder()
			newTestEngine(tt.apiKey).ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
