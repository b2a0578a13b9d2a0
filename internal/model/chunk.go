package model

import (
	"encoding/json"
	"time"
)

// Chunk stores one text window of a document with the vector it was indexed
// with. Embedding is a JSON array of float32 kept for audit and rebuilds.
type Chunk struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	DocumentID        uint      `gorm:"not null;index:idx_chunk_doc_pos,priority:1" json:"document_id"`
	Position          int       `gorm:"not null;index:idx_chunk_doc_pos,priority:2" json:"position"`
	Content           string    `gorm:"type:text;not null" json:"content"`
	Embedding         string    `gorm:"type:longtext" json:"-"`
	EmbeddingFallback bool      `gorm:"not null;default:false" json:"embedding_fallback"`
	CreatedAt         time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding; nil on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(c.Embedding), &v); err != nil {
		return nil
	}
	return v
}

func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
