package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"pdfrag/internal/model"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ListByDocumentID returns chunks in position order.
func (r *ChunkRepository) ListByDocumentID(ctx context.Context, documentID uint) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("position ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by document failed: %w", err)
	}
	return chunks, nil
}

// ListFallbackByDocumentID returns chunks stored with a placeholder vector.
func (r *ChunkRepository) ListFallbackByDocumentID(ctx context.Context, documentID uint) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.WithContext(ctx).
		Where("document_id = ? AND embedding_fallback = ?", documentID, true).
		Order("position ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list fallback chunks failed: %w", err)
	}
	return chunks, nil
}

// UpdateEmbedding replaces the stored vector of an existing chunk.
func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, chunk *model.Chunk) error {
	if err := r.db.WithContext(ctx).Model(&model.Chunk{}).Where("id = ?", chunk.ID).Updates(map[string]any{
		"embedding":          chunk.Embedding,
		"embedding_fallback": chunk.EmbeddingFallback,
	}).Error; err != nil {
		return fmt.Errorf("update chunk embedding failed: %w", err)
	}
	return nil
}
