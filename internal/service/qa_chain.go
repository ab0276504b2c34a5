package service

import (
	"context"
	"strings"

	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/llm"
	"scheme-rag-go/pkg/log"
)

// 将检索到的分块塞入 system 消息，问题作为 user 消息。
const (
	qaSystemTemplate = "Use the following pieces of context to answer the user's question. \n" +
		"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n" +
		"----------------\n"
	documentSeparator = "\n\n"
)

// QAChain 是检索问答链：检索 -> 拼接上下文 -> 调用聊天模型。
type QAChain interface {
	Invoke(ctx context.Context, query string) (model.QAResult, error)
	Stream(ctx context.Context, query string, writer llm.MessageWriter) error
}

type retrievalQAChain struct {
	retriever Retriever
	llmClient llm.Client
	gen       *llm.GenerationParams
}

// NewQAChain 创建检索问答链。gen 为 nil 时使用聊天客户端的默认生成参数。
func NewQAChain(retriever Retriever, llmClient llm.Client, gen *llm.GenerationParams) QAChain {
	return &retrievalQAChain{retriever: retriever, llmClient: llmClient, gen: gen}
}

// Invoke 返回 {query, result}，result 为模型答案原文。
func (c *retrievalQAChain) Invoke(ctx context.Context, query string) (model.QAResult, error) {
	messages, err := c.buildMessages(ctx, query)
	if err != nil {
		return model.QAResult{}, err
	}
	answer, err := c.llmClient.Chat(ctx, messages, c.gen)
	if err != nil {
		return model.QAResult{}, err
	}
	return model.QAResult{Query: query, Result: answer}, nil
}

// Stream 与 Invoke 使用相同的检索与提示词，答案分段写入 writer。
func (c *retrievalQAChain) Stream(ctx context.Context, query string, writer llm.MessageWriter) error {
	messages, err := c.buildMessages(ctx, query)
	if err != nil {
		return err
	}
	return c.llmClient.StreamChatMessages(ctx, messages, c.gen, writer)
}

func (c *retrievalQAChain) buildMessages(ctx context.Context, query string) ([]llm.Message, error) {
	hits, err := c.retriever.Retrieve(ctx, query)
	if err != nil {
		log.Errorf("[QAChain] 检索上下文失败: %v", err)
		return nil, err
	}
	return []llm.Message{
		{Role: "system", Content: qaSystemTemplate + buildContextText(hits)},
		{Role: "user", Content: query},
	}, nil
}

func buildContextText(hits []model.SearchHit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.TextContent
	}
	return strings.Join(parts, documentSeparator)
}
