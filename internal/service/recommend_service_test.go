package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/llm"
)

type fakeEmbedder struct {
	queries []string
	err     error
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.CreateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake" }

type fakeSearcher struct {
	hits          []model.SearchHit
	k, candidates int
}

func (f *fakeSearcher) KNNSearch(_ context.Context, _ []float32, k, numCandidates int) ([]model.SearchHit, error) {
	f.k, f.candidates = k, numCandidates
	return f.hits, nil
}

type fakeLLM struct {
	messages []llm.Message
	answer   string
	err      error
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.messages = messages
	return f.answer, f.err
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, writer llm.MessageWriter) error {
	f.messages = messages
	if f.err != nil {
		return f.err
	}
	for _, part := range []string{"Best scheme: ", "PM-KISAN"} {
		if err := writer.WriteMessage(1, []byte(part)); err != nil {
			return err
		}
	}
	return nil
}

type collectWriter struct{ parts []string }

func (c *collectWriter) WriteMessage(_ int, data []byte) error {
	c.parts = append(c.parts, string(data))
	return nil
}

func decodeRequest(t *testing.T, body string) model.SchemeRequest {
	t.Helper()
	var req model.SchemeRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func newTestRecommender(embedder *fakeEmbedder, searcher *fakeSearcher, chat *fakeLLM) RecommendService {
	r := NewRetriever(embedder, searcher, config.RetrieverConfig{TopK: 4, CandidateFactor: 10})
	return NewRecommendService(NewQAChain(r, chat, nil))
}

func TestBuildPrompt_UsesLocation(t *testing.T) {
	req := decodeRequest(t, `{"Objective":"education support","Demographics":{"Location":"Karnataka"}}`)

	prompt, err := BuildPrompt(req)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Karnataka")
	assert.Contains(t, prompt, "up to 3 relevant government schemes in each central and Karnataka")
	assert.Contains(t, prompt, "based on the user's location (Karnataka)")
	assert.Contains(t, prompt, `User Input: {"Objective":"education support","Demographics":{"Location":"Karnataka"}`)
	for _, section := range []string{"Scheme Name", "Eligibility Criteria", "Benefits", "Application Process", "Any Additional Notes"} {
		assert.Contains(t, prompt, section)
	}
}

func TestBuildPrompt_DefaultLocation(t *testing.T) {
	tests := []string{
		`{"Objective":"housing","Demographics":{"Age":40}}`,
		`{"Objective":"housing","Demographics":{"Location":""}}`,
		`{"Objective":"housing","Demographics":{"Location":null}}`,
	}
	for _, body := range tests {
		prompt, err := BuildPrompt(decodeRequest(t, body))
		require.NoError(t, err)
		assert.Contains(t, prompt, "government schemes of both central and the user's state.", body)
	}
}

func TestRecommend_ReturnsChainOutputVerbatim(t *testing.T) {
	embedder := &fakeEmbedder{}
	searcher := &fakeSearcher{hits: []model.SearchHit{
		{TextContent: "Vidyasiri scholarship for hostel students"},
		{TextContent: "Post-matric scholarship"},
	}}
	chat := &fakeLLM{answer: "1. Vidyasiri ..."}
	svc := newTestRecommender(embedder, searcher, chat)

	req := decodeRequest(t, `{"Objective":"education support","Demographics":{"Location":"Karnataka"}}`)
	result, err := svc.Recommend(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "1. Vidyasiri ...", result.Result)
	assert.Contains(t, result.Query, "Karnataka")

	// 检索使用整个提示词作为查询
	require.Len(t, embedder.queries, 1)
	assert.Equal(t, result.Query, embedder.queries[0])
	assert.Equal(t, 4, searcher.k)
	assert.Equal(t, 40, searcher.candidates)

	require.Len(t, chat.messages, 2)
	assert.Equal(t, "system", chat.messages[0].Role)
	assert.Contains(t, chat.messages[0].Content, "Use the following pieces of context")
	assert.Contains(t, chat.messages[0].Content, "Vidyasiri scholarship for hostel students\n\nPost-matric scholarship")
	assert.Equal(t, llm.Message{Role: "user", Content: result.Query}, chat.messages[1])
}

func TestRecommend_PropagatesExternalFailures(t *testing.T) {
	extErr := errors.Join(model.ErrExternalService, errors.New("timeout"))

	t.Run("embedding", func(t *testing.T) {
		svc := newTestRecommender(&fakeEmbedder{err: extErr}, &fakeSearcher{}, &fakeLLM{})
		_, err := svc.Recommend(context.Background(), decodeRequest(t, `{"Objective":"x","Demographics":{}}`))
		assert.ErrorIs(t, err, model.ErrExternalService)
	})

	t.Run("chat", func(t *testing.T) {
		svc := newTestRecommender(&fakeEmbedder{}, &fakeSearcher{}, &fakeLLM{err: extErr})
		_, err := svc.Recommend(context.Background(), decodeRequest(t, `{"Objective":"x","Demographics":{}}`))
		assert.ErrorIs(t, err, model.ErrExternalService)
	})
}

func TestStreamRecommend_WritesFragments(t *testing.T) {
	chat := &fakeLLM{}
	svc := newTestRecommender(&fakeEmbedder{}, &fakeSearcher{}, chat)

	w := &collectWriter{}
	err := svc.StreamRecommend(context.Background(), decodeRequest(t, `{"Objective":"farming","Demographics":{"Location":"Punjab"}}`), w)
	require.NoError(t, err)
	assert.Equal(t, []string{"Best scheme: ", "PM-KISAN"}, w.parts)
	assert.Contains(t, chat.messages[1].Content, "Punjab")
}
