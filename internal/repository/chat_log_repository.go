package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"pdfrag/internal/model"
)

type ChatLogRepository struct {
	db *gorm.DB
}

func NewChatLogRepository(db *gorm.DB) *ChatLogRepository {
	return &ChatLogRepository{db: db}
}

func (r *ChatLogRepository) Create(ctx context.Context, entry *model.ChatLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create chat log failed: %w", err)
	}
	return nil
}

func (r *ChatLogRepository) ListRecentByUserID(ctx context.Context, userID uint, limit int) ([]model.ChatLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []model.ChatLog
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list chat logs failed: %w", err)
	}
	return logs, nil
}
