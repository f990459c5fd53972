package domain

import "time"

type ReceiptStatus string

const (
	ReceiptProcessing ReceiptStatus = "processing"
	ReceiptReady      ReceiptStatus = "ready"
	ReceiptError      ReceiptStatus = "error"
)

type EmbeddingStatus string

const (
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingSynced  EmbeddingStatus = "synced"
	EmbeddingFailed  EmbeddingStatus = "failed"
)

// Receipt is a user-uploaded receipt after OCR/parsing.
// PurchaseDate is kept as the ISO-ish string the extractor produced.
type Receipt struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	Status            ReceiptStatus   `json:"status"`
	EmbeddingStatus   EmbeddingStatus `json:"embeddingStatus"`
	EmbeddingsVersion int             `json:"embeddingsVersion"`
	RawText           string          `json:"rawText"`
	Merchant          string          `json:"merchant"`
	PurchaseDate      string          `json:"purchaseDate"`
	Total             *float64        `json:"total"`
	Currency          string          `json:"currency"`
	Items             []ReceiptItem   `json:"items"`
	StorageKey        string          `json:"-"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type ReceiptItem struct {
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	Price    *float64 `json:"price"`
}

// ChunkMetadata is free-form per-chunk metadata stored alongside the vector.
type ChunkMetadata struct {
	Currency       string   `json:"currency,omitempty"`
	ChunkSizeWords int      `json:"chunkSizeWords"`
	HasContent     bool     `json:"hasContent"`
	ItemCount      int      `json:"itemCount"`
	WordCount      int      `json:"wordCount"`
	Categories     []string `json:"categories,omitempty"`
}

// ChunkDraft is a chunk produced by the chunker, before embedding.
type ChunkDraft struct {
	ReceiptID    string
	UserID       string
	ChunkIndex   int
	Text         string
	Merchant     string
	PurchaseDate string
	Total        *float64
	ItemNames    []string
	Metadata     ChunkMetadata
}

// ReceiptChunk is a stored chunk with its embedding vector.
type ReceiptChunk struct {
	ReceiptID    string        `json:"receiptId"`
	UserID       string        `json:"userId"`
	ChunkIndex   int           `json:"chunkIndex"`
	Text         string        `json:"text"`
	Embedding    []float32     `json:"-"`
	Merchant     string        `json:"merchant"`
	PurchaseDate string        `json:"purchaseDate"`
	Total        *float64      `json:"total"`
	ItemNames    []string      `json:"itemNames"`
	Metadata     ChunkMetadata `json:"metadata"`
}

// ChunkResult is a search hit: a chunk plus its relevance score.
type ChunkResult struct {
	ReceiptChunk
	Score float64 `json:"score"`
}

// DateRange filters by purchase date (inclusive, ISO strings).
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// ChatQuery is a sanitized, validated chat request. Ephemeral.
type ChatQuery struct {
	UserID     string
	Question   string
	ReceiptIDs []string
	DateRange  *DateRange
	TopK       int
}

// Usage counts tokens consumed by provider calls.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Source identifies a receipt an answer was grounded on.
type Source struct {
	ReceiptID    string   `json:"receiptId"`
	Merchant     string   `json:"merchant"`
	PurchaseDate string   `json:"purchaseDate"`
	Total        *float64 `json:"total"`
	Score        float64  `json:"score"`
}

// Diagnostic summarizes retrieval state for a chat response.
type Diagnostic struct {
	TotalReceipts    int `json:"totalReceipts"`
	EmbeddedReceipts int `json:"embeddedReceipts"`
	PendingReceipts  int `json:"pendingReceipts"`
	FailedReceipts   int `json:"failedReceipts"`
	ChunksFound      int `json:"chunksFound"`
}

// ChatAnswer is the uniform chat response shape: every branch of the chat
// flow returns it, including the no-results ones.
type ChatAnswer struct {
	Answer        string     `json:"answer"`
	Sources       []Source   `json:"sources"`
	Usage         Usage      `json:"usage"`
	ContextChunks int        `json:"contextChunks"`
	Question      string     `json:"question"`
	Diagnostic    Diagnostic `json:"diagnostic"`
}

// EmbeddingStatusReport is the read-only status probe result.
type EmbeddingStatusReport struct {
	Total            int                        `json:"total"`
	Synced           int                        `json:"synced"`
	Pending          int                        `json:"pending"`
	Failed           int                        `json:"failed"`
	Ready            bool                       `json:"ready"`
	PerReceiptStatus map[string]EmbeddingStatus `json:"perReceiptStatus"`
}

// Message is one persisted chat history entry.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
