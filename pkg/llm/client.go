// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/log"
)

// MessageWriter defines an interface for writing WebSocket messages.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// Chat 以非流式方式调用聊天接口，返回完整答案。
	Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// StreamChatMessages 以流式方式调用聊天接口，并将增量内容逐段写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error
}

type openAICompatibleClient struct {
	cfg     config.LLMConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a new OpenAI-compatible chat client guarded by a circuit breaker.
func NewClient(cfg config.LLMConfig) Client {
	maxFailures := cfg.Breaker.MaxConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openFor := time.Duration(cfg.Breaker.OpenSeconds) * time.Second
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ChatModel",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// 调用方取消不算作服务故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("[LLMClient] 熔断器 %s 状态变化: %s -> %s", name, from, to)
		},
	})
	return &openAICompatibleClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		breaker: breaker,
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Stream           bool      `json:"stream"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// GenerationParams 控制生成行为，nil 字段不下发。
type GenerationParams struct {
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        *int
}

// GenerationParamsFromConfig 将配置中的非零生成参数转换为 GenerationParams。
func GenerationParamsFromConfig(g config.LLMGenerationConfig) *GenerationParams {
	var gp GenerationParams
	if g.Temperature != 0 {
		t := g.Temperature
		gp.Temperature = &t
	}
	if g.TopP != 0 {
		p := g.TopP
		gp.TopP = &p
	}
	if g.FrequencyPenalty != 0 {
		f := g.FrequencyPenalty
		gp.FrequencyPenalty = &f
	}
	if g.PresencePenalty != 0 {
		p := g.PresencePenalty
		gp.PresencePenalty = &p
	}
	if g.MaxTokens != 0 {
		m := g.MaxTokens
		gp.MaxTokens = &m
	}
	return &gp
}

func (c *openAICompatibleClient) buildRequest(messages []Message, gen *GenerationParams, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}
	// 传参优先，未传时使用全局配置
	if gen == nil {
		gen = GenerationParamsFromConfig(c.cfg.Generation)
	}
	reqBody.Temperature = gen.Temperature
	reqBody.TopP = gen.TopP
	reqBody.FrequencyPenalty = gen.FrequencyPenalty
	reqBody.PresencePenalty = gen.PresencePenalty
	reqBody.MaxTokens = gen.MaxTokens
	return reqBody
}

func (c *openAICompatibleClient) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}

// execute 通过熔断器执行调用，并把失败统一包装为 ErrExternalService。
func (c *openAICompatibleClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	out, err := c.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warnf("[LLMClient] 熔断器打开，快速失败: %v", err)
		}
		return nil, fmt.Errorf("%w: %w", model.ErrExternalService, err)
	}
	return out, nil
}

// Chat 调用 chat/completions 并返回第一条候选答案的完整文本。
func (c *openAICompatibleClient) Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	log.Infof("[LLMClient] 开始调用聊天模型, model: %s, messages: %d", c.cfg.Model, len(messages))
	out, err := c.execute(func() (interface{}, error) {
		resp, err := c.post(ctx, c.buildRequest(messages, gen, false))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var chatResp chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return nil, fmt.Errorf("failed to decode chat response: %w", err)
		}
		if len(chatResp.Choices) == 0 {
			return nil, errors.New("chat api returned no choices")
		}
		return chatResp.Choices[0].Message.Content, nil
	})
	if err != nil {
		log.Errorf("[LLMClient] 聊天模型调用失败: %v", err)
		return "", err
	}
	answer := out.(string)
	log.Infof("[LLMClient] 聊天模型返回答案, 长度: %d", len(answer))
	return answer, nil
}

// StreamChatMessages 以 SSE 流式调用聊天接口，并将增量内容写入 writer。
// writer 的写入失败属于调用方（如 WebSocket 客户端断开），不计入熔断器，原样返回。
func (c *openAICompatibleClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	var writeErr error
	_, err := c.execute(func() (interface{}, error) {
		resp, err := c.post(ctx, c.buildRequest(messages, gen, true))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				return nil, fmt.Errorf("failed to read from stream: %w", err)
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			if data == "[DONE]" {
				break
			}
			var chunk chatStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if err := writer.WriteMessage(websocket.TextMessage, []byte(chunk.Choices[0].Delta.Content)); err != nil {
					writeErr = fmt.Errorf("failed to write message to websocket: %w", err)
					return nil, nil
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		log.Warnf("[LLMClient] 流式写出中断: %v", writeErr)
	}
	return writeErr
}
