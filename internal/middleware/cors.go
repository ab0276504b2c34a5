package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS 允许任意来源（回显 Origin）、携带凭证、所有方法。
// 携带凭证时浏览器不把 "*" 当作通配符，预检请求的 Access-Control-Request-Headers 被原样回显。
func CORS() gin.HandlerFunc {
	handler := cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodHead, http.MethodOptions,
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions && c.GetHeader("Origin") != "" {
			if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
				c.Header("Access-Control-Allow-Headers", requested)
			}
		}
		handler(c)
	}
}
