// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/llm"
	"scheme-rag-go/pkg/log"
)

// DefaultLocation 在用户未提供 Location 时代入提示词。
const DefaultLocation = "the user's state"

const recommendPromptTemplate = `
You are an AI assistant trained to provide detailed and actionable information about government schemes of both central and %[1]s.
Using the following user input, identify up to 3 relevant government schemes in each central and %[1]s from the database. For each scheme, provide:
1. Scheme Name
2. Eligibility Criteria
3. Benefits
4. Application Process
5. Any Additional Notes

Once all the relevant schemes are listed, suggest the best scheme based on the user's location (%[1]s) and requirements. Justify your suggestion based on the user's needs and the scheme details. If any information is missing, indicate explicitly.

User Input: %[2]s
`

// RecommendService 定义了方案推荐操作的接口。
type RecommendService interface {
	Recommend(ctx context.Context, req model.SchemeRequest) (model.QAResult, error)
	StreamRecommend(ctx context.Context, req model.SchemeRequest, writer llm.MessageWriter) error
}

type recommendService struct {
	chain QAChain
}

// NewRecommendService 创建一个新的 RecommendService 实例。
func NewRecommendService(chain QAChain) RecommendService {
	return &recommendService{chain: chain}
}

// BuildPrompt 根据用户画像构建推荐提示词。
func BuildPrompt(req model.SchemeRequest) (string, error) {
	location, ok := req.Location()
	if !ok {
		location = DefaultLocation
	}
	userInput, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: 无法序列化用户画像: %v", model.ErrInvalidRequest, err)
	}
	return fmt.Sprintf(recommendPromptTemplate, location, userInput), nil
}

// Recommend 构建提示词并调用问答链，原样返回链的输出。
func (s *recommendService) Recommend(ctx context.Context, req model.SchemeRequest) (model.QAResult, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return model.QAResult{}, err
	}
	log.Infof("[RecommendService] 开始推荐, objective: '%s'", req.Objective)
	result, err := s.chain.Invoke(ctx, prompt)
	if err != nil {
		log.Errorf("[RecommendService] 问答链调用失败: %v", err)
		return model.QAResult{}, err
	}
	return result, nil
}

// StreamRecommend 与 Recommend 使用相同的提示词，以流式方式写出答案。
func (s *recommendService) StreamRecommend(ctx context.Context, req model.SchemeRequest, writer llm.MessageWriter) error {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return err
	}
	log.Infof("[RecommendService] 开始流式推荐, objective: '%s'", req.Objective)
	return s.chain.Stream(ctx, prompt, writer)
}
