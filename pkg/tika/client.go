// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
)

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL:  cfg.ServerURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// ExtractText 根据文件后缀推断 MIME 类型，调用 Tika 提取纯文本。
// 任何失败都归为 model.ErrExtraction，由调用方跳过该文件。
func (c *Client) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	contentType := detectMimeType(fileName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", fileReader)
	if err != nil {
		return "", fmt.Errorf("%w: 创建 Tika 请求失败: %v", model.ErrExtraction, err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: 调用 Tika 失败: %v", model.ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: Tika 返回错误 [%d]: %s", model.ErrExtraction, resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", fmt.Errorf("%w: 读取 Tika 响应失败: %v", model.ErrExtraction, err)
	}
	return buf.String(), nil
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	switch filepath.Ext(fileName) {
	case ".doc", ".DOC":
		return "application/msword"
	case ".docx", ".DOCX":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	mimeType := mime.TypeByExtension(filepath.Ext(fileName))
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
