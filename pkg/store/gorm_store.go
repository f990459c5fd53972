package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"groceryai/pkg/domain"
)

const migrateLockID int64 = 52114407

const (
	defaultEmbeddingDim    = 1536
	defaultVectorIndexName = "idx_receipt_chunks_embedding"
)

type GormStoreOptions struct {
	EmbeddingDim    int
	VectorIndexName string
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// WithVectorIndexName selects the ANN index created for chunk embeddings.
func WithVectorIndexName(name string) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.VectorIndexName = name
	}
}

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
	indexName    string
}

// NewGormStore opens the DB and runs auto-migrations, including the pgvector
// extension and the chunk ANN index.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim := opts.EmbeddingDim
	if embeddingDim <= 0 {
		embeddingDim = defaultEmbeddingDim
	}
	indexName := strings.TrimSpace(opts.VectorIndexName)
	if indexName == "" {
		indexName = defaultVectorIndexName
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&ReceiptModel{}, &ReceiptChunkModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// The model tag creates vector(1536); reconcile the column with the
		// configured dimension. The USING cast also repairs columns that
		// predate the vector type.
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'receipt_chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE receipt_chunk_models
					ALTER COLUMN embedding TYPE vector(%d) USING embedding::vector(%d);
			END IF;
			END $$;
		`, embeddingDim, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON receipt_chunk_models USING hnsw (embedding vector_cosine_ops)",
			indexName,
		)).Error; err != nil {
			return fmt.Errorf("create vector index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim, indexName: indexName}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveReceipt stores or updates a receipt.
func (s *GormStore) SaveReceipt(receipt domain.Receipt) error {
	model := receiptToModel(receipt)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "raw_text", "merchant", "purchase_date", "total", "currency",
			"items", "storage_key", "error_message", "updated_at",
		}),
	}).Create(&model).Error
}

// GetReceipt retrieves a receipt by ID.
func (s *GormStore) GetReceipt(id string) (domain.Receipt, bool, error) {
	var model ReceiptModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Receipt{}, false, nil
		}
		return domain.Receipt{}, false, err
	}
	return receiptFromModel(model), true, nil
}

// ListReceiptsByUser returns a user's receipts, newest first.
func (s *GormStore) ListReceiptsByUser(userID string, limit int) ([]domain.Receipt, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var models []ReceiptModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	receipts := make([]domain.Receipt, 0, len(models))
	for _, m := range models {
		receipts = append(receipts, receiptFromModel(m))
	}
	return receipts, nil
}

// SetReceiptStatus updates lifecycle status and error message.
func (s *GormStore) SetReceiptStatus(id string, status domain.ReceiptStatus, errMsg string) error {
	return s.db.Model(&ReceiptModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetEmbeddingStatus updates the embedding state without touching the version.
func (s *GormStore) SetEmbeddingStatus(id string, status domain.EmbeddingStatus, errMsg string) error {
	return s.db.Model(&ReceiptModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"embedding_status": string(status),
			"error_message":    errMsg,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// MarkReceiptSynced records a completed embedding run: status synced, version
// stamped, prior error cleared.
func (s *GormStore) MarkReceiptSynced(id string, embeddingsVersion int) error {
	return s.db.Model(&ReceiptModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"embedding_status":   string(domain.EmbeddingSynced),
			"embeddings_version": embeddingsVersion,
			"error_message":      "",
			"updated_at":         time.Now().UTC(),
		}).Error
}

// ListEligibleForEmbedding returns the next page of receipts due for
// (re-)embedding, oldest-stale first.
func (s *GormStore) ListEligibleForEmbedding(q EligibilityQuery) ([]domain.Receipt, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	tx := s.db.Where("status = ?", string(domain.ReceiptReady))
	if !q.Force {
		tx = tx.Where("embedding_status <> ? OR embeddings_version < ?", string(domain.EmbeddingSynced), q.TargetVersion)
	}
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.ReceiptID != "" {
		tx = tx.Where("id = ?", q.ReceiptID)
	}
	var models []ReceiptModel
	if err := tx.Order("updated_at ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	receipts := make([]domain.Receipt, 0, len(models))
	for _, m := range models {
		receipts = append(receipts, receiptFromModel(m))
	}
	return receipts, nil
}

// CountEmbeddingStatus aggregates embedding state over ready receipts.
func (s *GormStore) CountEmbeddingStatus(userID string, receiptIDs []string) (domain.EmbeddingStatusReport, error) {
	tx := s.db.Model(&ReceiptModel{}).
		Where("user_id = ? AND status = ?", userID, string(domain.ReceiptReady))
	if len(receiptIDs) > 0 {
		tx = tx.Where("id IN ?", receiptIDs)
	}
	var rows []struct {
		ID              string
		EmbeddingStatus string
	}
	if err := tx.Select("id", "embedding_status").Find(&rows).Error; err != nil {
		return domain.EmbeddingStatusReport{}, err
	}
	report := domain.EmbeddingStatusReport{
		PerReceiptStatus: make(map[string]domain.EmbeddingStatus, len(rows)),
	}
	for _, row := range rows {
		status := domain.EmbeddingStatus(row.EmbeddingStatus)
		report.Total++
		switch status {
		case domain.EmbeddingSynced:
			report.Synced++
		case domain.EmbeddingFailed:
			report.Failed++
		default:
			report.Pending++
		}
		report.PerReceiptStatus[row.ID] = status
	}
	report.Ready = report.Total > 0 && report.Synced == report.Total
	return report, nil
}

// AppendMessage records a chat history entry.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessagesByUser returns recent chat messages in chronological order.
func (s *GormStore) ListMessagesByUser(userID string, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []MessageModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

func receiptToModel(r domain.Receipt) ReceiptModel {
	items, _ := json.Marshal(r.Items)
	return ReceiptModel{
		ID:                r.ID,
		UserID:            r.UserID,
		Status:            string(r.Status),
		EmbeddingStatus:   string(r.EmbeddingStatus),
		EmbeddingsVersion: r.EmbeddingsVersion,
		RawText:           r.RawText,
		Merchant:          r.Merchant,
		PurchaseDate:      r.PurchaseDate,
		Total:             r.Total,
		Currency:          r.Currency,
		Items:             items,
		StorageKey:        r.StorageKey,
		ErrorMessage:      r.ErrorMessage,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func receiptFromModel(m ReceiptModel) domain.Receipt {
	var items []domain.ReceiptItem
	if len(m.Items) > 0 {
		_ = json.Unmarshal(m.Items, &items)
	}
	embeddingStatus := domain.EmbeddingStatus(m.EmbeddingStatus)
	if embeddingStatus == "" {
		embeddingStatus = domain.EmbeddingPending
	}
	return domain.Receipt{
		ID:                m.ID,
		UserID:            m.UserID,
		Status:            domain.ReceiptStatus(m.Status),
		EmbeddingStatus:   embeddingStatus,
		EmbeddingsVersion: m.EmbeddingsVersion,
		RawText:           m.RawText,
		Merchant:          m.Merchant,
		PurchaseDate:      m.PurchaseDate,
		Total:             m.Total,
		Currency:          m.Currency,
		Items:             items,
		StorageKey:        m.StorageKey,
		ErrorMessage:      m.ErrorMessage,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	sources, _ := json.Marshal(msg.Sources)
	return MessageModel{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Role:      msg.Role,
		Content:   msg.Content,
		Sources:   sources,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var sources []domain.Source
	if len(m.Sources) > 0 {
		_ = json.Unmarshal(m.Sources, &sources)
	}
	return domain.Message{
		ID:        m.ID,
		UserID:    m.UserID,
		Role:      m.Role,
		Content:   m.Content,
		Sources:   sources,
		CreatedAt: m.CreatedAt,
	}
}
