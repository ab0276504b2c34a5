package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/loader"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/tasks"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	v, err := f.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embedding" }

// fakeStore 模拟 Elasticsearch：以文档 ID 为键覆盖写入。
type fakeStore struct {
	ensured int
	docs    map[string]model.EsDocument
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]model.EsDocument)}
}

func (s *fakeStore) Name() string { return "test__schemes" }

func (s *fakeStore) EnsureIndex(context.Context) error {
	s.ensured++
	return nil
}

func (s *fakeStore) BulkUpsert(_ context.Context, docs []model.EsDocument) error {
	if s.err != nil {
		return s.err
	}
	for _, d := range docs {
		s.docs[d.VectorID] = d
	}
	return nil
}

func (s *fakeStore) ids() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type fakeLedger struct {
	hashes map[string]bool
}

func (l *fakeLedger) Seen(_ context.Context, hashes []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	for _, h := range hashes {
		if l.hashes[h] {
			seen[h] = true
		}
	}
	return seen, nil
}

func (l *fakeLedger) Mark(_ context.Context, hashes []string) error {
	for _, h := range hashes {
		l.hashes[h] = true
	}
	return nil
}

type fakeChunkRepo struct {
	rows []*model.SchemeChunk
	err  error
}

func (r *fakeChunkRepo) BatchCreate(_ context.Context, chunks []*model.SchemeChunk) error {
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, chunks...)
	return nil
}

func (r *fakeChunkRepo) CountByRunID(_ context.Context, runID string) (int64, error) {
	var n int64
	for _, c := range r.rows {
		if c.RunID == runID {
			n++
		}
	}
	return n, nil
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"Karnataka/vidyasiri.txt": "Vidyasiri scholarship.\n\nProvides food and accommodation   assistance to students.",
		"Karnataka/raitha.txt":    "Raitha Siri supports millet farmers with per-hectare assistance.",
		"Goa/dayanand.txt":        "Dayanand Social Security Scheme pays a monthly pension to senior citizens.",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newTestProcessor(t *testing.T, root, policy string, store *fakeStore, ledger *fakeLedger, repo *fakeChunkRepo) *Processor {
	t.Helper()
	splitter, err := NewRecursiveSplitter(40, 10)
	require.NoError(t, err)
	l := loader.New(loader.FSSource{Root: root}, loader.NewWordExtractor(nil))
	var w *Writer
	if ledger != nil {
		w = NewWriter(&fakeEmbedder{}, store, 2, policy, ledger)
	} else {
		w = NewWriter(&fakeEmbedder{}, store, 2, policy, nil)
	}
	if repo != nil {
		return NewProcessor(l, splitter, w, repo)
	}
	return NewProcessor(l, splitter, w, nil)
}

func TestProcessor_AppendPolicyDuplicatesOnRerun(t *testing.T) {
	root := writeCorpus(t)
	store := newFakeStore()
	p := newTestProcessor(t, root, config.DedupeAppend, store, nil, nil)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 3)
	assert.Equal(t, 3, first.Documents)
	assert.Equal(t, first.Chunks, first.Written)
	assert.Len(t, store.docs, first.Chunks)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	// 重复导入不去重，条目翻倍
	assert.Len(t, store.docs, first.Chunks*2)
}

func TestProcessor_ContentHashPolicyIsIdempotent(t *testing.T) {
	root := writeCorpus(t)
	store := newFakeStore()
	p := newTestProcessor(t, root, config.DedupeContentHash, store, nil, nil)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	idsAfterFirst := store.ids()

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, idsAfterFirst, store.ids())
	assert.Len(t, store.docs, first.Chunks)

	for id, doc := range store.docs {
		assert.Equal(t, id, doc.ContentHash)
		assert.Equal(t, ContentHash(doc.Region, doc.Source, doc.TextContent), id)
	}
}

func TestProcessor_LedgerSkipsAlreadyEmbeddedChunks(t *testing.T) {
	root := writeCorpus(t)
	store := newFakeStore()
	ledger := &fakeLedger{hashes: make(map[string]bool)}
	p := newTestProcessor(t, root, config.DedupeContentHash, store, ledger, nil)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, ledger.hashes, first.Chunks)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Written)
	assert.Equal(t, first.Chunks, second.AlreadySeen)
}

func TestProcessor_ChunksCarryProvenance(t *testing.T) {
	root := writeCorpus(t)
	store := newFakeStore()
	repo := &fakeChunkRepo{}
	p := newTestProcessor(t, root, config.DedupeAppend, store, nil, repo)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	n, err := repo.CountByRunID(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(report.Chunks), n)

	for _, doc := range store.docs {
		assert.Contains(t, []string{"Goa", "Karnataka"}, doc.Region)
		assert.Equal(t, doc.Region, filepath.Base(filepath.Dir(doc.Source)))
		assert.Equal(t, report.RunID, doc.RunID)
		assert.Equal(t, "fake-embedding", doc.ModelVersion)
		assert.NotContains(t, doc.TextContent, "\n")
		assert.LessOrEqual(t, len([]rune(doc.TextContent)), 40)
	}
}

func TestProcessor_StagingFailureAborts(t *testing.T) {
	root := writeCorpus(t)
	store := newFakeStore()
	p := newTestProcessor(t, root, config.DedupeAppend, store, nil, &fakeChunkRepo{err: errors.New("db down")})

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, model.ErrExternalService)
	assert.Empty(t, store.docs)
}

func TestProcessor_EmbeddingFailureAborts(t *testing.T) {
	root := writeCorpus(t)
	store := newFakeStore()
	splitter, err := NewRecursiveSplitter(40, 10)
	require.NoError(t, err)
	embedErr := errors.Join(model.ErrExternalService, errors.New("429"))
	w := NewWriter(&fakeEmbedder{err: embedErr}, store, 2, config.DedupeAppend, nil)
	p := NewProcessor(loader.New(loader.FSSource{Root: root}, loader.NewWordExtractor(nil)), splitter, w, nil)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, model.ErrExternalService)
	assert.Empty(t, store.docs)
}

func TestProcessor_ProcessSingleRegion(t *testing.T) {
	root := writeCorpus(t)
	store := newFakeStore()
	p := newTestProcessor(t, root, config.DedupeAppend, store, nil, nil)

	require.NoError(t, p.Process(context.Background(), tasks.RegionIngestTask{RunID: "run-1", Region: "Goa"}))
	require.NotEmpty(t, store.docs)
	for _, doc := range store.docs {
		assert.Equal(t, "Goa", doc.Region)
		assert.Equal(t, "run-1", doc.RunID)
	}
}

func TestWriter_BatchesRequests(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	w := NewWriter(embedder, store, 2, config.DedupeAppend, nil)

	chunks := []model.SchemeChunk{
		{Region: "Goa", Source: "a", TextContent: "one"},
		{Region: "Goa", Source: "a", TextContent: "two", ChunkIndex: 1},
		{Region: "Goa", Source: "a", TextContent: "three", ChunkIndex: 2},
	}
	report, err := w.Write(context.Background(), "run", chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Written)
	assert.Equal(t, 2, embedder.calls)
	assert.Equal(t, 1, store.ensured)
}
