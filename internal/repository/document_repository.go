package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"pdfrag/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateWithChunks writes the document and its chunks in one transaction.
// Chunk DocumentID is filled from the new document; positions are kept as given.
func (r *DocumentRepository) CreateWithChunks(ctx context.Context, doc *model.Document, chunks []model.Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc.ChunkCount = len(chunks)
		if err := tx.Omit("Chunks").Create(doc).Error; err != nil {
			return fmt.Errorf("create document failed: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			chunks[i].DocumentID = doc.ID
		}
		if err := tx.CreateInBatches(&chunks, 100).Error; err != nil {
			return fmt.Errorf("create document chunks failed: %w", err)
		}
		return nil
	})
}

func (r *DocumentRepository) ListByUserID(ctx context.Context, userID uint) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

func (r *DocumentRepository) GetByIDAndUserID(ctx context.Context, id, userID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// DeleteByIDAndUserID removes the document; chunks go with it through the
// foreign key cascade, and explicitly for drivers without one.
func (r *DocumentRepository) DeleteByIDAndUserID(ctx context.Context, id, userID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("delete document chunks failed: %w", err)
		}
		if err := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("delete document failed: %w", err)
		}
		return nil
	})
}
