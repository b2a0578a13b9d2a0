package app

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/ai"
	"pdfrag/internal/model"
	"pdfrag/internal/pkg/pdfextract"
	"pdfrag/internal/pkg/textchunk"
	"pdfrag/internal/vectorstore"
)

type pipelineFixture struct {
	blobs     *fakeBlobs
	extractor *fakeExtractor
	embedder  Embedder
	index     *fakeIndex
	sink      *fakeSink
	logs      *bytes.Buffer
	logger    *log.Logger
	cfg       IngestionConfig
}

func newPipelineFixture(text string) *pipelineFixture {
	blobs := newFakeBlobs()
	logs := &bytes.Buffer{}
	return &pipelineFixture{
		blobs:     blobs,
		extractor: &fakeExtractor{blobs: blobs, text: text},
		embedder:  &fakeEmbedder{dim: 4},
		index:     newFakeIndex(),
		sink:      &fakeSink{},
		logs:      logs,
		logger:    log.New(logs, "", 0),
		cfg: IngestionConfig{
			ChunkSize:    150,
			ChunkOverlap: 25,
			Concurrency:  4,
			Collection:   "pdf_documents",
			Policy:       DefaultFailurePolicy(),
		},
	}
}

func (f *pipelineFixture) pipeline(t *testing.T) *IngestionPipeline {
	t.Helper()
	p, err := NewIngestionPipeline(f.cfg, f.blobs, f.extractor, f.embedder, f.index, f.sink, f.logger)
	require.NoError(t, err)
	return p
}

func ingestInput(userID uint) IngestInput {
	return IngestInput{UserID: userID, FileName: "report.pdf", Content: strings.NewReader("%PDF-1.4 fake")}
}

func TestIngest_PersistsAndIndexesEveryChunk(t *testing.T) {
	text := words(300)
	f := newPipelineFixture(text)

	var events []ProgressEvent
	input := ingestInput(7)
	input.Progress = func(e ProgressEvent) { events = append(events, e) }

	result, err := f.pipeline(t).Ingest(context.Background(), input)
	require.NoError(t, err)

	expected, err := textchunk.Chunk(text, 150, 25)
	require.NoError(t, err)
	require.Len(t, expected, 3)

	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, 3, result.IndexedCount)
	assert.Equal(t, 0, result.FallbackCount)
	assert.Equal(t, 0, result.IndexFailures)

	require.Len(t, f.sink.docs, 1)
	doc := f.sink.docs[0]
	assert.Equal(t, uint(7), doc.UserID)
	assert.Equal(t, "report.pdf", doc.FileName)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, len(text), doc.TextLength)
	assert.True(t, strings.HasPrefix(doc.StoragePath, "pdfs/"))
	assert.Equal(t, 1, f.blobs.count())

	require.Len(t, f.sink.chunks, 3)
	for i, c := range f.sink.chunks {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, expected[i], c.Content)
		assert.Len(t, c.EmbeddingVector(), 4)
		assert.False(t, c.EmbeddingFallback)
	}

	assert.Equal(t, 3, f.index.pointCount())
	for _, c := range f.sink.chunks {
		p, ok := f.index.points[vectorstore.PointID(doc.ID, vectorstore.ContentHash(c.Content))]
		require.True(t, ok)
		assert.Equal(t, doc.ID, p.Payload[vectorstore.PayloadDocumentID])
		assert.Equal(t, uint(7), p.Payload[vectorstore.PayloadUserID])
		assert.Equal(t, c.Content, p.Payload[vectorstore.PayloadText])
		assert.Equal(t, false, p.Payload[vectorstore.PayloadFallback])
	}

	require.NotEmpty(t, events)
	assert.Equal(t, StageReceived, events[0].Stage)
	assert.Equal(t, StageComplete, events[len(events)-1].Stage)
}

func TestIngest_EmbeddingOutageStillPersistsFallbackChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newPipelineFixture(words(300))
	f.embedder = ai.NewEmbeddingClient(ai.EmbeddingConfig{BaseURL: srv.URL, Timeout: time.Second}, ai.WithEmbeddingLogger(f.logger))

	result, err := f.pipeline(t).Ingest(context.Background(), ingestInput(1))
	require.NoError(t, err)

	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, 3, result.FallbackCount)
	require.Len(t, f.sink.chunks, 3)
	for _, c := range f.sink.chunks {
		vec := c.EmbeddingVector()
		require.Len(t, vec, 1536)
		for _, v := range vec {
			assert.Equal(t, ai.DefaultFallbackValue, v)
		}
		assert.True(t, c.EmbeddingFallback)
	}
	assert.Equal(t, 3, strings.Count(f.logs.String(), "embedding fallback"))

	assert.Equal(t, 3, result.IndexedCount)
	for _, p := range f.index.points {
		assert.Equal(t, true, p.Payload[vectorstore.PayloadFallback])
	}
}

func TestIngest_UpsertFailureDoesNotStopLaterChunks(t *testing.T) {
	f := newPipelineFixture(words(300))
	f.index.upsertErr = func(p vectorstore.Point) error {
		if p.Payload[vectorstore.PayloadPosition] == 1 {
			return errors.New("qdrant unavailable")
		}
		return nil
	}

	result, err := f.pipeline(t).Ingest(context.Background(), ingestInput(1))
	require.NoError(t, err)

	assert.Len(t, f.sink.chunks, 3)
	assert.Equal(t, 3, f.index.upserts)
	assert.Equal(t, 2, result.IndexedCount)
	assert.Equal(t, 1, result.IndexFailures)
	assert.Contains(t, f.logs.String(), "vector upsert skipped: document=1 position=1")
}

func TestIngest_IndexFailPolicySurfacesError(t *testing.T) {
	f := newPipelineFixture(words(300))
	f.cfg.Policy.OnIndexFailure = IndexFail
	f.cfg.Concurrency = 1
	f.index.upsertErr = func(vectorstore.Point) error { return errors.New("qdrant unavailable") }

	result, err := f.pipeline(t).Ingest(context.Background(), ingestInput(1))
	require.Error(t, err)

	var ingestErr *IngestionError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, StageIndexed, ingestErr.Stage)
	assert.Equal(t, uint(1), ingestErr.DocumentID)

	require.NotNil(t, result)
	assert.Equal(t, 0, result.IndexedCount)
	assert.Len(t, f.sink.chunks, 3)
	assert.Equal(t, 1, f.blobs.count())
}

func TestIngest_SkipIndexPolicyKeepsFallbacksOutOfIndex(t *testing.T) {
	f := newPipelineFixture(words(300))
	f.cfg.Policy.OnEmbedFailure = EmbedSkipIndex
	f.embedder = &fakeEmbedder{dim: 4, fn: func(_ context.Context, text string) ai.Embedding {
		if strings.HasPrefix(text, "w0 ") {
			return ai.Embedding{Vector: []float32{1, 0, 0, 0}}
		}
		return fallbackEmbedding(4)
	}}

	result, err := f.pipeline(t).Ingest(context.Background(), ingestInput(1))
	require.NoError(t, err)

	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, 2, result.FallbackCount)
	assert.Equal(t, 2, result.SkippedCount)
	assert.Equal(t, 1, result.IndexedCount)
	assert.Equal(t, 1, f.index.pointCount())
	assert.Len(t, f.sink.chunks, 3)
}

func TestIngest_ChunkOrderSurvivesOutOfOrderEmbedding(t *testing.T) {
	text := words(1000)
	f := newPipelineFixture(text)
	f.cfg.Concurrency = 8

	var mu sync.Mutex
	var completion []string
	f.embedder = &fakeEmbedder{dim: 2, fn: func(_ context.Context, chunk string) ai.Embedding {
		// The first chunk finishes last.
		fields := strings.Fields(chunk)
		if fields[0] == "w0" {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		completion = append(completion, fields[0])
		mu.Unlock()
		return ai.Embedding{Vector: []float32{1, 0}}
	}}

	_, err := f.pipeline(t).Ingest(context.Background(), ingestInput(1))
	require.NoError(t, err)

	expected, err := textchunk.Chunk(text, 150, 25)
	require.NoError(t, err)
	require.Len(t, expected, 8)
	require.Len(t, f.sink.chunks, 8)
	for i, c := range f.sink.chunks {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, expected[i], c.Content)
	}
	assert.NotEqual(t, "w0", completion[0])
}

func TestIngest_ConcurrentProgressCountsUpInOrder(t *testing.T) {
	f := newPipelineFixture(words(1000))
	f.cfg.Concurrency = 8
	f.embedder = &fakeEmbedder{dim: 2, fn: func(_ context.Context, chunk string) ai.Embedding {
		if strings.HasPrefix(chunk, "w0 ") {
			time.Sleep(10 * time.Millisecond)
		}
		return ai.Embedding{Vector: []float32{1, 0}}
	}}

	done := map[Stage][]int{}
	input := ingestInput(1)
	input.Progress = func(e ProgressEvent) {
		if e.Stage == StageEmbedded || e.Stage == StageIndexed {
			assert.Equal(t, 8, e.Total)
			done[e.Stage] = append(done[e.Stage], e.Done)
		}
	}

	_, err := f.pipeline(t).Ingest(context.Background(), input)
	require.NoError(t, err)

	want := []int{1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal(t, want, done[StageEmbedded])
	assert.Equal(t, want, done[StageIndexed])
}

func TestIngest_FatalErrorsLeaveNoDocument(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *pipelineFixture)
		stage Stage
		check func(t *testing.T, err error)
	}{
		{
			name: "unreadable source",
			setup: func(f *pipelineFixture) {
				f.extractor.err = &pdfextract.ExtractionError{Path: "pdfs/1.pdf", Err: errors.New("malformed PDF")}
			},
			stage: StageExtracted,
			check: func(t *testing.T, err error) {
				var target *pdfextract.ExtractionError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name: "text below minimum",
			setup: func(f *pipelineFixture) {
				f.extractor.err = &pdfextract.EmptyContentError{Path: "pdfs/1.pdf", Length: 3, Min: 50}
			},
			stage: StageExtracted,
			check: func(t *testing.T, err error) {
				var target *pdfextract.EmptyContentError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name:  "blank text",
			setup: func(f *pipelineFixture) { f.extractor.text = "   " },
			stage: StageChunked,
		},
		{
			name:  "persistence failure",
			setup: func(f *pipelineFixture) { f.sink.err = errors.New("mysql gone") },
			stage: StagePersisted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(words(300))
			tt.setup(f)

			result, err := f.pipeline(t).Ingest(context.Background(), ingestInput(1))
			require.Error(t, err)
			assert.Nil(t, result)

			var ingestErr *IngestionError
			require.ErrorAs(t, err, &ingestErr)
			assert.Equal(t, tt.stage, ingestErr.Stage)
			if tt.check != nil {
				tt.check(t, err)
			}

			assert.Empty(t, f.sink.docs)
			assert.Equal(t, 0, f.index.pointCount())
			assert.Equal(t, 0, f.blobs.count())
		})
	}
}

func TestIngest_StorageFailure(t *testing.T) {
	f := newPipelineFixture(words(10))
	f.blobs.saveErr = errors.New("disk full")

	_, err := f.pipeline(t).Ingest(context.Background(), ingestInput(1))
	var ingestErr *IngestionError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, StageStored, ingestErr.Stage)
}

func TestIngest_MissingContent(t *testing.T) {
	f := newPipelineFixture(words(10))

	_, err := f.pipeline(t).Ingest(context.Background(), IngestInput{UserID: 1})
	var ingestErr *IngestionError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, StageReceived, ingestErr.Stage)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIngest_ShortDocumentIsOneChunk(t *testing.T) {
	text := words(10)
	f := newPipelineFixture(text)
	f.cfg.ChunkSize = 500
	f.cfg.ChunkOverlap = 50

	result, err := f.pipeline(t).Ingest(context.Background(), ingestInput(1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)
	require.Len(t, f.sink.chunks, 1)
	assert.Equal(t, text, f.sink.chunks[0].Content)
}

func TestIngest_CancelledContext(t *testing.T) {
	f := newPipelineFixture(words(300))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline(t).Ingest(ctx, ingestInput(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.sink.docs)
}

func TestNewIngestionPipeline_RejectsInvalidChunkConfig(t *testing.T) {
	f := newPipelineFixture("")
	f.cfg.ChunkOverlap = f.cfg.ChunkSize

	_, err := NewIngestionPipeline(f.cfg, f.blobs, f.extractor, f.embedder, f.index, f.sink, f.logger)
	assert.ErrorIs(t, err, textchunk.ErrInvalidConfig)
}

func TestChunkPoint_IdentityIgnoresPayload(t *testing.T) {
	doc := &model.Document{ID: 3, UserID: 9, FileName: "a.pdf"}
	chunk := &model.Chunk{Position: 0, Content: "same text"}

	a := ChunkPoint(doc, chunk, []float32{1}, false)
	b := ChunkPoint(&model.Document{ID: 3, UserID: 9, FileName: "renamed.pdf"}, &model.Chunk{Position: 4, Content: "same text"}, []float32{2}, true)
	assert.Equal(t, a.ID, b.ID)

	other := ChunkPoint(&model.Document{ID: 4}, chunk, []float32{1}, false)
	assert.NotEqual(t, a.ID, other.ID)
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultFailurePolicy(), p)

	p, err = ParseFailurePolicy("skip_index", "fail")
	require.NoError(t, err)
	assert.Equal(t, EmbedSkipIndex, p.OnEmbedFailure)
	assert.Equal(t, IndexFail, p.OnIndexFailure)

	_, err = ParseFailurePolicy("drop", "")
	assert.Error(t, err)
	_, err = ParseFailurePolicy("", "retry")
	assert.Error(t, err)
}
