package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"scheme-rag-go/internal/middleware"
	"scheme-rag-go/internal/service"
)

// NewRouter 注册所有路由。timeout 只作用于普通 HTTP 请求，不限制 WebSocket 连接。
func NewRouter(recommender service.RecommendService, timeout time.Duration) *gin.Engine {
	r := gin.New()
	r.Use(middleware.CORS(), middleware.RequestLogger(), gin.Recovery())

	h := NewSchemeHandler(recommender)
	r.GET("/", h.Root)
	r.POST("/get_schemes", middleware.RequestTimeout(timeout), h.GetSchemes)
	r.GET("/get_schemes/stream", h.StreamSchemes)
	return r
}
