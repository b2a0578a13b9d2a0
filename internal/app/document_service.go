package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"pdfrag/internal/model"
	"pdfrag/internal/vectorstore"
)

var ErrDocumentNotFound = errors.New("document not found")

type DocumentStore interface {
	ListByUserID(ctx context.Context, userID uint) ([]model.Document, error)
	GetByIDAndUserID(ctx context.Context, id, userID uint) (*model.Document, error)
	DeleteByIDAndUserID(ctx context.Context, id, userID uint) error
}

type ChunkStore interface {
	ListByDocumentID(ctx context.Context, documentID uint) ([]model.Chunk, error)
	ListFallbackByDocumentID(ctx context.Context, documentID uint) ([]model.Chunk, error)
	UpdateEmbedding(ctx context.Context, chunk *model.Chunk) error
}

type ReembedResult struct {
	Candidates    int `json:"candidates"`
	Repaired      int `json:"repaired"`
	StillFallback int `json:"still_fallback"`
}

type DocumentService struct {
	docs       DocumentStore
	chunks     ChunkStore
	blobs      BlobStore
	index      VectorIndex
	embedder   Embedder
	collection string
	logger     *log.Logger
}

func NewDocumentService(
	docs DocumentStore,
	chunks ChunkStore,
	blobs BlobStore,
	index VectorIndex,
	embedder Embedder,
	collection string,
	logger *log.Logger,
) *DocumentService {
	if logger == nil {
		logger = log.Default()
	}
	return &DocumentService{
		docs:       docs,
		chunks:     chunks,
		blobs:      blobs,
		index:      index,
		embedder:   embedder,
		collection: collection,
		logger:     logger,
	}
}

func (s *DocumentService) List(ctx context.Context, userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docs.ListByUserID(ctx, userID)
}

func (s *DocumentService) Get(ctx context.Context, userID, documentID uint) (*model.Document, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Chunks returns the document's chunks in position order.
func (s *DocumentService) Chunks(ctx context.Context, userID, documentID uint) ([]model.Chunk, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	return s.chunks.ListByDocumentID(ctx, doc.ID)
}

// Delete removes the document row with its chunks, then the blob and the
// vector points. Blob and vector cleanup failures are logged only.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID uint) error {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if err := s.docs.DeleteByIDAndUserID(ctx, doc.ID, userID); err != nil {
		return err
	}
	if err := s.blobs.Delete(doc.StoragePath); err != nil {
		s.logger.Printf("blob delete failed: document=%d path=%s cause=%v", doc.ID, doc.StoragePath, err)
	}
	if err := s.index.DeleteByFilter(ctx, s.collection, *vectorstore.DocumentFilter(doc.ID)); err != nil {
		s.logger.Printf("vector delete failed: document=%d cause=%v", doc.ID, err)
	}
	return nil
}

// ReembedFallbacks retries the embedding of chunks stored with the placeholder
// vector and replaces both the stored vector and the indexed point when a real
// embedding comes back.
func (s *DocumentService) ReembedFallbacks(ctx context.Context, userID, documentID uint) (*ReembedResult, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunks.ListFallbackByDocumentID(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	result := &ReembedResult{Candidates: len(chunks)}
	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		emb := s.embedder.Embed(ctx, chunks[i].Content)
		if emb.Fallback {
			result.StillFallback++
			continue
		}
		chunks[i].SetEmbedding(emb.Vector)
		chunks[i].EmbeddingFallback = false
		if err := s.chunks.UpdateEmbedding(ctx, &chunks[i]); err != nil {
			return result, fmt.Errorf("store re-embedded chunk %d failed: %w", chunks[i].Position, err)
		}
		if err := s.index.Upsert(ctx, s.collection, ChunkPoint(doc, &chunks[i], emb.Vector, false)); err != nil {
			s.logger.Printf("vector upsert skipped: document=%d position=%d cause=%v", doc.ID, chunks[i].Position, err)
		}
		result.Repaired++
	}
	return result, nil
}
