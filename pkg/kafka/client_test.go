package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheme-rag-go/pkg/tasks"
)

type stubProcessor struct {
	err   error
	calls int
}

func (p *stubProcessor) Process(_ context.Context, _ tasks.RegionIngestTask) error {
	p.calls++
	return p.err
}

func encode(t *testing.T, task tasks.RegionIngestTask) []byte {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return b
}

func TestHandle_SuccessCommitsAndResetsAttempts(t *testing.T) {
	counter := NewMemoryAttemptCounter()
	task := tasks.RegionIngestTask{RunID: "r1", Region: "Goa"}
	_, _ = counter.Incr(context.Background(), task.AttemptKey())

	h := &messageHandler{
		processor: &stubProcessor{},
		counter:   counter,
		requeue: func(context.Context, tasks.RegionIngestTask) error {
			t.Error("successful task must not be requeued")
			return nil
		},
	}
	assert.True(t, h.handle(context.Background(), encode(t, task)))
	assert.Empty(t, counter.attempts)
}

func TestHandle_FailureRequeuesUntilMaxAttempts(t *testing.T) {
	counter := NewMemoryAttemptCounter()
	proc := &stubProcessor{err: errors.New("embedding down")}
	var requeued int
	h := &messageHandler{
		processor: proc,
		counter:   counter,
		requeue: func(context.Context, tasks.RegionIngestTask) error {
			requeued++
			return nil
		},
	}
	msg := encode(t, tasks.RegionIngestTask{RunID: "r1", Region: "Kerala"})

	for i := 0; i < MaxAttempts; i++ {
		assert.True(t, h.handle(context.Background(), msg))
	}
	assert.Equal(t, MaxAttempts, proc.calls)
	// 前两次失败重新投递，第三次放弃
	assert.Equal(t, MaxAttempts-1, requeued)
	assert.Empty(t, counter.attempts)
}

func TestHandle_RequeueFailureDoesNotCommit(t *testing.T) {
	h := &messageHandler{
		processor: &stubProcessor{err: errors.New("boom")},
		counter:   NewMemoryAttemptCounter(),
		requeue: func(context.Context, tasks.RegionIngestTask) error {
			return errors.New("broker unavailable")
		},
	}
	assert.False(t, h.handle(context.Background(), encode(t, tasks.RegionIngestTask{Region: "Goa"})))
}

func TestHandle_MalformedMessageIsCommitted(t *testing.T) {
	proc := &stubProcessor{}
	h := &messageHandler{processor: proc, counter: NewMemoryAttemptCounter()}
	assert.True(t, h.handle(context.Background(), []byte("{not json")))
	assert.Zero(t, proc.calls)
}
