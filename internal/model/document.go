package model

import "time"

// Document is one uploaded PDF. Its chunks are removed with it.
type Document struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	StoragePath string    `gorm:"size:512;not null" json:"storage_path"`
	TextLength  int       `gorm:"not null" json:"text_length"`
	ChunkCount  int       `gorm:"not null;default:0" json:"chunk_count"`
	Chunks      []Chunk   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
