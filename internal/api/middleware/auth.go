package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/azin/mediacache-service/internal/config"
	"github.com/gin-gonic/gin"
)

// Auth API Key 认证中间件，只用于 /v1 管理接口
func Auth(cfg *config.SecurityConfig) gin.HandlerFunc {
	keys := cfg.APIKeys

	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(k.Key), []byte(apiKey)) == 1 {
				c.Set("api_key_name", k.Name)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
	}
}

// CORS 跨域中间件；浏览器端播放器需要读取 Content-Range
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Range, Accept, Origin, Cache-Control, X-Requested-With, X-API-Key")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
