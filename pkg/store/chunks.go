package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm/clause"

	"groceryai/pkg/domain"
)

// UpsertChunks writes a batch of chunks keyed by (receipt_id, chunk_index).
// The whole batch is validated before any row is written so a bad chunk never
// leaves a partial write behind.
func (s *GormStore) UpsertChunks(chunks []domain.ReceiptChunk) (UpsertResult, error) {
	if len(chunks) == 0 {
		return UpsertResult{}, nil
	}
	receiptID := chunks[0].ReceiptID
	for i, chunk := range chunks {
		if err := validateChunk(chunk); err != nil {
			return UpsertResult{}, fmt.Errorf("chunk %d: %w", i, err)
		}
		// The existence check below is keyed by chunk index within one
		// receipt, so a batch must not mix receipts.
		if chunk.ReceiptID != receiptID {
			return UpsertResult{}, fmt.Errorf("chunk %d: %w: batch mixes receipts %s and %s",
				i, ErrInvalidChunk, receiptID, chunk.ReceiptID)
		}
	}

	indexes := make([]int, 0, len(chunks))
	for _, chunk := range chunks {
		indexes = append(indexes, chunk.ChunkIndex)
	}
	var existing []struct {
		ReceiptID  string
		ChunkIndex int
	}
	if err := s.db.Model(&ReceiptChunkModel{}).
		Select("receipt_id", "chunk_index").
		Where("receipt_id = ? AND chunk_index IN ?", receiptID, indexes).
		Find(&existing).Error; err != nil {
		return UpsertResult{}, fmt.Errorf("upsert chunks: %w", err)
	}
	existingKeys := make(map[int]bool, len(existing))
	for _, key := range existing {
		existingKeys[key.ChunkIndex] = true
	}

	now := time.Now().UTC()
	models := make([]ReceiptChunkModel, 0, len(chunks))
	for _, chunk := range chunks {
		models = append(models, chunkToModel(chunk, now))
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "receipt_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "text", "embedding", "merchant", "purchase_date",
			"total", "item_names", "metadata", "updated_at",
		}),
	}).Create(&models).Error; err != nil {
		return UpsertResult{}, fmt.Errorf("upsert chunks: %w", err)
	}

	result := UpsertResult{}
	for _, chunk := range chunks {
		if existingKeys[chunk.ChunkIndex] {
			result.MatchedCount++
			result.ModifiedCount++
		} else {
			result.UpsertedCount++
		}
	}
	return result, nil
}

// scoredChunkModel carries the cosine distance selected alongside the row.
type scoredChunkModel struct {
	ReceiptChunkModel `gorm:"embedded"`
	Distance          float64
}

func validateChunk(chunk domain.ReceiptChunk) error {
	if strings.TrimSpace(chunk.ReceiptID) == "" {
		return fmt.Errorf("%w: missing receipt id", ErrInvalidChunk)
	}
	if strings.TrimSpace(chunk.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidChunk)
	}
	if chunk.ChunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index", ErrInvalidChunk)
	}
	if strings.TrimSpace(chunk.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidChunk)
	}
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("%w: missing embedding", ErrInvalidChunk)
	}
	return nil
}

// SearchChunks runs a cosine similarity search, pushing the filter into SQL
// and over-fetching candidates so the exact Go-side re-check can still fill
// topK. Score is 1 - cosine distance.
func (s *GormStore) SearchChunks(query []float32, filter SearchFilter, topK int) ([]domain.ChunkResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidQuery)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", ErrInvalidQuery)
	}
	if strings.TrimSpace(filter.UserID) == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidQuery)
	}

	vec := pgvector.NewVector(query)
	tx := s.db.Model(&ReceiptChunkModel{}).Where("user_id = ?", filter.UserID)
	if len(filter.ReceiptIDs) > 0 {
		tx = tx.Where("receipt_id IN ?", filter.ReceiptIDs)
	} else if id := strings.TrimSpace(filter.ReceiptID); id != "" {
		tx = tx.Where("receipt_id = ?", id)
	}
	if filter.DateRange != nil {
		if filter.DateRange.From != "" {
			tx = tx.Where("purchase_date >= ?", filter.DateRange.From)
		}
		if filter.DateRange.To != "" {
			tx = tx.Where("purchase_date <= ?", filter.DateRange.To)
		}
	}

	limit := candidateLimit(topK, filter.HasNarrowing())
	var rows []scoredChunkModel
	if err := tx.
		Where("embedding IS NOT NULL").
		Select("*, embedding <=> ? AS distance", vec).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	results := make([]domain.ChunkResult, 0, topK)
	for _, row := range rows {
		chunk := chunkFromModel(row.ReceiptChunkModel)
		if !filter.Matches(chunk) {
			continue
		}
		results = append(results, domain.ChunkResult{
			ReceiptChunk: chunk,
			Score:        1 - row.Distance,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// DeleteChunksFrom removes chunks with index >= fromIndex, pruning leftovers
// after a re-embed produced fewer chunks than before.
func (s *GormStore) DeleteChunksFrom(receiptID string, fromIndex int) (int, error) {
	if strings.TrimSpace(receiptID) == "" {
		return 0, fmt.Errorf("%w: missing receipt id", ErrInvalidQuery)
	}
	if fromIndex < 0 {
		fromIndex = 0
	}
	res := s.db.Where("receipt_id = ? AND chunk_index >= ?", receiptID, fromIndex).
		Delete(&ReceiptChunkModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chunks: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func chunkToModel(chunk domain.ReceiptChunk, now time.Time) ReceiptChunkModel {
	itemNames, _ := json.Marshal(chunk.ItemNames)
	metadata, _ := json.Marshal(chunk.Metadata)
	vec := pgvector.NewVector(chunk.Embedding)
	return ReceiptChunkModel{
		ID:           fmt.Sprintf("%s:%d", chunk.ReceiptID, chunk.ChunkIndex),
		ReceiptID:    chunk.ReceiptID,
		ChunkIndex:   chunk.ChunkIndex,
		UserID:       chunk.UserID,
		Text:         chunk.Text,
		Embedding:    &vec,
		Merchant:     chunk.Merchant,
		PurchaseDate: chunk.PurchaseDate,
		Total:        chunk.Total,
		ItemNames:    itemNames,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func chunkFromModel(m ReceiptChunkModel) domain.ReceiptChunk {
	var itemNames []string
	if len(m.ItemNames) > 0 {
		_ = json.Unmarshal(m.ItemNames, &itemNames)
	}
	var metadata domain.ChunkMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &metadata)
	}
	chunk := domain.ReceiptChunk{
		ReceiptID:    m.ReceiptID,
		UserID:       m.UserID,
		ChunkIndex:   m.ChunkIndex,
		Text:         m.Text,
		Merchant:     m.Merchant,
		PurchaseDate: m.PurchaseDate,
		Total:        m.Total,
		ItemNames:    itemNames,
		Metadata:     metadata,
	}
	if m.Embedding != nil {
		chunk.Embedding = m.Embedding.Slice()
	}
	return chunk
}
