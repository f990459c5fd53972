package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ReceiptModel struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"not null;index"`
	Status            string `gorm:"not null;index"`
	EmbeddingStatus   string `gorm:"not null;index"`
	EmbeddingsVersion int    `gorm:"not null;default:0"`
	RawText           string `gorm:"type:text"`
	Merchant          string
	PurchaseDate      string
	Total             *float64
	Currency          string
	Items             datatypes.JSON `gorm:"type:jsonb"`
	StorageKey        string
	ErrorMessage      string
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null;index"`
}

// ReceiptChunkModel is addressed by (receipt_id, chunk_index) so re-embedding
// overwrites chunk N instead of duplicating it.
type ReceiptChunkModel struct {
	ID           string `gorm:"primaryKey"`
	ReceiptID    string `gorm:"not null;uniqueIndex:idx_receipt_chunk,priority:1;index"`
	ChunkIndex   int    `gorm:"not null;uniqueIndex:idx_receipt_chunk,priority:2"`
	UserID       string `gorm:"not null;index"`
	Text         string `gorm:"type:text;not null"`
	Embedding    *pgvector.Vector `gorm:"type:vector(1536)"`
	Merchant     string
	PurchaseDate string `gorm:"index"`
	Total        *float64
	ItemNames    datatypes.JSON `gorm:"type:jsonb"`
	Metadata     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

type MessageModel struct {
	ID        string         `gorm:"primaryKey"`
	UserID    string         `gorm:"not null;index"`
	Role      string         `gorm:"not null"`
	Content   string         `gorm:"type:text;not null"`
	Sources   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}
