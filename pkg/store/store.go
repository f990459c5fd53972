package store

import (
	"errors"

	"groceryai/pkg/domain"
)

var (
	// ErrInvalidChunk rejects an upsert batch before any write happens.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrInvalidQuery rejects a search with a bad vector or topK.
	ErrInvalidQuery = errors.New("invalid search query")
)

// UpsertResult reports the outcome of one bulk chunk upsert.
type UpsertResult struct {
	MatchedCount  int `json:"matchedCount"`
	ModifiedCount int `json:"modifiedCount"`
	UpsertedCount int `json:"upsertedCount"`
}

// EligibilityQuery selects receipts due for (re-)embedding.
// Zero-value fields are ignored.
type EligibilityQuery struct {
	TargetVersion int
	Force         bool
	UserID        string
	ReceiptID     string
	Limit         int
}

// Store is the persistence surface shared by the API server and the worker.
type Store interface {
	// Receipts.
	SaveReceipt(receipt domain.Receipt) error
	GetReceipt(id string) (domain.Receipt, bool, error)
	ListReceiptsByUser(userID string, limit int) ([]domain.Receipt, error)
	SetReceiptStatus(id string, status domain.ReceiptStatus, errMsg string) error
	SetEmbeddingStatus(id string, status domain.EmbeddingStatus, errMsg string) error
	MarkReceiptSynced(id string, embeddingsVersion int) error
	ListEligibleForEmbedding(q EligibilityQuery) ([]domain.Receipt, error)
	CountEmbeddingStatus(userID string, receiptIDs []string) (domain.EmbeddingStatusReport, error)

	// Chunk vectors.
	UpsertChunks(chunks []domain.ReceiptChunk) (UpsertResult, error)
	SearchChunks(query []float32, filter SearchFilter, topK int) ([]domain.ChunkResult, error)
	DeleteChunksFrom(receiptID string, fromIndex int) (int, error)

	// Chat history.
	AppendMessage(msg domain.Message) error
	ListMessagesByUser(userID string, limit int) ([]domain.Message, error)
}
