package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
)

type recordingWriter struct {
	frames []string
}

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	w.frames = append(w.frames, string(data))
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		APIKey:         "sk-test",
		BaseURL:        srv.URL,
		Model:          "gpt-4o-mini",
		TimeoutSeconds: 5,
		Generation: config.LLMGenerationConfig{
			Temperature:      0.3,
			TopP:             0.85,
			FrequencyPenalty: 0.3,
			PresencePenalty:  0.3,
		},
		Breaker: config.BreakerConfig{MaxConsecutiveFailures: 2, OpenSeconds: 60},
	})
}

func TestChat_SendsConfiguredGenerationParams(t *testing.T) {
	var raw map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"PM-KISAN"}}]}`))
	})

	answer, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "PM-KISAN", answer)

	assert.Equal(t, "gpt-4o-mini", raw["model"])
	assert.Equal(t, false, raw["stream"])
	assert.InDelta(t, 0.3, raw["temperature"], 1e-9)
	assert.InDelta(t, 0.85, raw["top_p"], 1e-9)
	assert.InDelta(t, 0.3, raw["frequency_penalty"], 1e-9)
	assert.InDelta(t, 0.3, raw["presence_penalty"], 1e-9)
	_, hasMax := raw["max_tokens"]
	assert.False(t, hasMax)
}

func TestChat_ExplicitParamsOverrideConfig(t *testing.T) {
	var raw map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	temp := 0.0
	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, &GenerationParams{Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, 0.0, raw["temperature"])
	_, hasTopP := raw["top_p"]
	assert.False(t, hasTopP)
}

func TestChat_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	for i := 0; i < 3; i++ {
		_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrExternalService)
	}
	// 第三次调用被熔断器拦截，不会到达上游
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChat_NoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	assert.ErrorIs(t, err, model.ErrExternalService)
}

func TestStreamChatMessages_WritesDeltas(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Scheme", " A", ""} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	writer := &recordingWriter{}
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, writer)
	require.NoError(t, err)
	assert.Equal(t, []string{"Scheme", " A"}, writer.frames)
	assert.Equal(t, "Scheme A", strings.Join(writer.frames, ""))
}

type closedWriter struct{}

func (closedWriter) WriteMessage(int, []byte) error {
	return errors.New("websocket: close sent")
}

func TestStreamChatMessages_WriterFailureDoesNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Scheme\"}}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"PM-KISAN"}}]}`))
	})

	for i := 0; i < 3; i++ {
		err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, closedWriter{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, model.ErrExternalService)
	}

	// 上游健康，客户端断开不应打开熔断器
	answer, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "PM-KISAN", answer)
}
