// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"scheme-rag-go/pkg/log"
)

// 超过该长度的请求/响应体在日志中被截断
const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	return string(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。WebSocket 升级请求不捕获响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// 读取并重新缓存请求体
		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))

		var blw *bodyLogWriter
		if c.GetHeader("Upgrade") == "" {
			blw = &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
			c.Writer = blw
		}

		c.Next()

		responseBody := ""
		if blw != nil {
			responseBody = truncate(blw.body.Bytes())
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", truncate(requestBody),
			"responseBody", responseBody,
		)
	}
}
