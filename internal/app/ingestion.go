package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"pdfrag/internal/ai"
	"pdfrag/internal/model"
	"pdfrag/internal/pkg/textchunk"
	"pdfrag/internal/vectorstore"
)

const (
	defaultConcurrency = 4
	blobFolder         = "pdfs"
	blobExt            = "pdf"
)

// Stage is a step of the per-document ingestion state machine.
type Stage string

const (
	StageReceived  Stage = "received"
	StageStored    Stage = "stored"
	StageExtracted Stage = "extracted"
	StageChunked   Stage = "chunked"
	StageEmbedded  Stage = "embedded"
	StagePersisted Stage = "persisted"
	StageIndexed   Stage = "indexed"
	StageComplete  Stage = "complete"
)

// IngestionError reports the stage that could not be completed.
type IngestionError struct {
	Stage      Stage
	DocumentID uint
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

type EmbedFailurePolicy int

const (
	// EmbedUseFallback indexes the placeholder vector tagged embedding_fallback=true.
	EmbedUseFallback EmbedFailurePolicy = iota
	// EmbedSkipIndex persists the chunk but keeps it out of the vector index.
	EmbedSkipIndex
)

type IndexFailurePolicy int

const (
	// IndexSkipAndLog logs a failed upsert and moves on to the next chunk.
	IndexSkipAndLog IndexFailurePolicy = iota
	// IndexFail stops indexing and reports the failure to the caller.
	IndexFail
)

type FailurePolicy struct {
	OnEmbedFailure EmbedFailurePolicy
	OnIndexFailure IndexFailurePolicy
}

func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{OnEmbedFailure: EmbedUseFallback, OnIndexFailure: IndexSkipAndLog}
}

// ParseFailurePolicy maps config values ("fallback"|"skip_index", "skip"|"fail").
// Empty values keep the defaults.
func ParseFailurePolicy(onEmbed, onIndex string) (FailurePolicy, error) {
	p := DefaultFailurePolicy()
	switch strings.ToLower(strings.TrimSpace(onEmbed)) {
	case "", "fallback":
	case "skip_index":
		p.OnEmbedFailure = EmbedSkipIndex
	default:
		return p, fmt.Errorf("unknown embed failure policy %q", onEmbed)
	}
	switch strings.ToLower(strings.TrimSpace(onIndex)) {
	case "", "skip":
	case "fail":
		p.OnIndexFailure = IndexFail
	default:
		return p, fmt.Errorf("unknown index failure policy %q", onIndex)
	}
	return p, nil
}

type BlobStore interface {
	Save(ctx context.Context, folder, ext string, r io.Reader) (string, error)
	Open(path string) (io.ReadCloser, error)
	Delete(path string) error
}

type TextExtractor interface {
	Extract(path string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ai.Embedding
	Dimension() int
}

type VectorIndex interface {
	Upsert(ctx context.Context, collection string, point vectorstore.Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter *vectorstore.Filter) []vectorstore.SearchResult
	DeleteByFilter(ctx context.Context, collection string, filter vectorstore.Filter) error
}

type DocumentSink interface {
	CreateWithChunks(ctx context.Context, doc *model.Document, chunks []model.Chunk) error
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Concurrency  int
	Collection   string
	Policy       FailurePolicy
}

// ProgressEvent is emitted once per finished step; Done/Total count chunks
// during the embedded and indexed stages.
type ProgressEvent struct {
	Stage Stage
	Done  int
	Total int
}

type IngestInput struct {
	UserID   uint
	FileName string
	Content  io.Reader
	Progress func(ProgressEvent)
}

type IngestResult struct {
	Document      model.Document `json:"document"`
	ChunkCount    int            `json:"chunk_count"`
	FallbackCount int            `json:"fallback_count"`
	IndexedCount  int            `json:"indexed_count"`
	SkippedCount  int            `json:"skipped_count"`
	IndexFailures int            `json:"index_failures"`
}

// IngestionPipeline runs one uploaded PDF through storage, extraction,
// chunking, embedding, persistence and indexing. Everything up to persistence
// is fatal; per-chunk embedding and indexing problems are absorbed according
// to the configured FailurePolicy.
type IngestionPipeline struct {
	cfg       IngestionConfig
	blobs     BlobStore
	extractor TextExtractor
	embedder  Embedder
	index     VectorIndex
	sink      DocumentSink
	logger    *log.Logger
}

func NewIngestionPipeline(
	cfg IngestionConfig,
	blobs BlobStore,
	extractor TextExtractor,
	embedder Embedder,
	index VectorIndex,
	sink DocumentSink,
	logger *log.Logger,
) (*IngestionPipeline, error) {
	if err := textchunk.Validate(cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestionPipeline{
		cfg:       cfg,
		blobs:     blobs,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		sink:      sink,
		logger:    logger,
	}, nil
}

func (p *IngestionPipeline) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	progress := newProgress(input.Progress)

	if input.Content == nil {
		return nil, &IngestionError{Stage: StageReceived, Err: ErrInvalidInput}
	}
	fileName := strings.TrimSpace(filepath.Base(input.FileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		fileName = "document.pdf"
	}
	progress.emit(StageReceived, 0, 0)

	path, err := p.blobs.Save(ctx, blobFolder, blobExt, input.Content)
	if err != nil {
		return nil, &IngestionError{Stage: StageStored, Err: err}
	}
	progress.emit(StageStored, 0, 0)

	persisted := false
	defer func() {
		if !persisted {
			if err := p.blobs.Delete(path); err != nil {
				p.logger.Printf("remove blob after failed ingestion failed: path=%s cause=%v", path, err)
			}
		}
	}()

	text, err := p.extractor.Extract(path)
	if err != nil {
		return nil, &IngestionError{Stage: StageExtracted, Err: err}
	}
	progress.emit(StageExtracted, 0, 0)

	pieces, err := textchunk.Chunk(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return nil, &IngestionError{Stage: StageChunked, Err: err}
	}
	if len(pieces) == 0 {
		return nil, &IngestionError{Stage: StageChunked, Err: errors.New("document produced no chunks")}
	}
	progress.emit(StageChunked, 0, len(pieces))

	embeddings, err := p.embedAll(ctx, pieces, progress)
	if err != nil {
		return nil, &IngestionError{Stage: StageEmbedded, Err: err}
	}

	doc := &model.Document{
		UserID:      input.UserID,
		FileName:    fileName,
		StoragePath: path,
		TextLength:  len([]rune(strings.TrimSpace(text))),
	}
	chunks := make([]model.Chunk, len(pieces))
	fallbacks := 0
	for i, piece := range pieces {
		chunks[i] = model.Chunk{
			Position:          i,
			Content:           piece,
			EmbeddingFallback: embeddings[i].Fallback,
		}
		chunks[i].SetEmbedding(embeddings[i].Vector)
		if embeddings[i].Fallback {
			fallbacks++
		}
	}
	if err := p.sink.CreateWithChunks(ctx, doc, chunks); err != nil {
		return nil, &IngestionError{Stage: StagePersisted, Err: err}
	}
	persisted = true
	progress.emit(StagePersisted, len(chunks), len(chunks))

	result := &IngestResult{
		Document:      *doc,
		ChunkCount:    len(chunks),
		FallbackCount: fallbacks,
	}
	if err := p.indexAll(ctx, doc, chunks, embeddings, result, progress); err != nil {
		return result, &IngestionError{Stage: StageIndexed, DocumentID: doc.ID, Err: err}
	}
	progress.emit(StageComplete, len(chunks), len(chunks))
	return result, nil
}

// embedAll embeds every chunk with bounded parallelism. Results are stored by
// position so completion order never affects chunk order.
func (p *IngestionPipeline) embedAll(ctx context.Context, pieces []string, progress *progress) ([]ai.Embedding, error) {
	results := make([]ai.Embedding, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range pieces {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.embedder.Embed(gctx, pieces[i])
			progress.emitNext(StageEmbedded, len(pieces))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *IngestionPipeline) indexAll(
	ctx context.Context,
	doc *model.Document,
	chunks []model.Chunk,
	embeddings []ai.Embedding,
	result *IngestResult,
	progress *progress,
) error {
	var (
		indexed  atomic.Int32
		skipped  atomic.Int32
		failures atomic.Int32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range chunks {
		g.Go(func() error {
			defer func() {
				progress.emitNext(StageIndexed, len(chunks))
			}()
			if embeddings[i].Fallback && p.cfg.Policy.OnEmbedFailure == EmbedSkipIndex {
				skipped.Add(1)
				return nil
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			point := ChunkPoint(doc, &chunks[i], embeddings[i].Vector, embeddings[i].Fallback)
			if err := p.index.Upsert(gctx, p.cfg.Collection, point); err != nil {
				failures.Add(1)
				if p.cfg.Policy.OnIndexFailure == IndexFail {
					return fmt.Errorf("chunk %d: %w", chunks[i].Position, err)
				}
				p.logger.Printf("vector upsert skipped: document=%d position=%d cause=%v", doc.ID, chunks[i].Position, err)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	err := g.Wait()
	result.IndexedCount = int(indexed.Load())
	result.SkippedCount = int(skipped.Load())
	result.IndexFailures = int(failures.Load())
	return err
}

// ChunkPoint builds the vector point for a persisted chunk. Its id depends on
// the document id and the chunk text only.
func ChunkPoint(doc *model.Document, chunk *model.Chunk, vec []float32, fallback bool) vectorstore.Point {
	return vectorstore.Point{
		ID:     vectorstore.PointID(doc.ID, vectorstore.ContentHash(chunk.Content)),
		Vector: vec,
		Payload: map[string]any{
			vectorstore.PayloadDocumentID: doc.ID,
			vectorstore.PayloadUserID:     doc.UserID,
			vectorstore.PayloadText:       chunk.Content,
			vectorstore.PayloadPosition:   chunk.Position,
			vectorstore.PayloadFileName:   doc.FileName,
			vectorstore.PayloadFallback:   fallback,
		},
	}
}

// progress serializes callbacks coming from worker goroutines.
type progress struct {
	mu   sync.Mutex
	fn   func(ProgressEvent)
	done map[Stage]int
}

func newProgress(fn func(ProgressEvent)) *progress {
	return &progress{fn: fn, done: make(map[Stage]int)}
}

// emitNext counts one more finished step of stage and reports it. The count
// is taken under the same lock as the callback, so Done never goes backwards.
func (p *progress) emitNext(stage Stage, total int) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done[stage]++
	p.fn(ProgressEvent{Stage: stage, Done: p.done[stage], Total: total})
}

func (p *progress) emit(stage Stage, done, total int) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn(ProgressEvent{Stage: stage, Done: done, Total: total})
}
