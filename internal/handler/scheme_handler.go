// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"

	"scheme-rag-go/internal/model"
	"scheme-rag-go/internal/service"
	"scheme-rag-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// SchemeHandler 负责方案推荐相关的 HTTP 与 WebSocket 请求。
type SchemeHandler struct {
	recommender service.RecommendService
}

// NewSchemeHandler 创建一个新的 SchemeHandler。
func NewSchemeHandler(recommender service.RecommendService) *SchemeHandler {
	return &SchemeHandler{recommender: recommender}
}

// Root 是健康检查端点。
func (h *SchemeHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Scheme Recommender API is running"})
}

// GetSchemes 根据用户画像返回推荐结果。
func (h *SchemeHandler) GetSchemes(c *gin.Context) {
	var req model.SchemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	result, err := h.recommender.Recommend(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		log.Errorf("[SchemeHandler] 推荐失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// StreamSchemes 处理 WebSocket 连接：每收到一条用户画像消息，就流式写回一次推荐。
func (h *SchemeHandler) StreamSchemes(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[SchemeHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[SchemeHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		req, err := decodeProfile(message)
		if err != nil {
			writeJSON(conn, map[string]string{"error": err.Error()})
			continue
		}

		interceptor := &chunkWriter{conn: conn}
		if err := h.recommender.StreamRecommend(c.Request.Context(), req, interceptor); err != nil {
			log.Errorf("[SchemeHandler] 流式推荐失败: %v", err)
			writeJSON(conn, map[string]string{"error": "Internal Server Error"})
			return
		}
		writeJSON(conn, map[string]interface{}{
			"type":      "completion",
			"status":    "finished",
			"message":   "响应已完成",
			"timestamp": time.Now().UnixMilli(),
			"date":      time.Now().Format("2006-01-02T15:04:05"),
		})
	}
}

// decodeProfile 解析并校验一条用户画像消息，校验规则与 POST /get_schemes 相同。
func decodeProfile(message []byte) (model.SchemeRequest, error) {
	var req model.SchemeRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return req, err
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return req, err
	}
	return req, nil
}

// chunkWriter 将模型输出的每个片段包装为 {"chunk": "..."} 帧。
type chunkWriter struct {
	conn *websocket.Conn
}

func (w *chunkWriter) WriteMessage(messageType int, data []byte) error {
	b, err := json.Marshal(map[string]string{"chunk": string(data)})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, b)
}

func writeJSON(conn *websocket.Conn, v interface{}) {
	b, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("[SchemeHandler] 写入 WebSocket 失败: %v", err)
	}
}
