package model

import "time"

// ChatLog records one answered question.
type ChatLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Query     string    `gorm:"type:text;not null" json:"query"`
	Answer    string    `gorm:"type:text;not null" json:"answer"`
	Context   string    `gorm:"type:longtext" json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
