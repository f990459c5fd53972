package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"groceryai/internal/ocr"
	"groceryai/pkg/domain"
	"groceryai/pkg/queue"
	"groceryai/pkg/storage"
	"groceryai/pkg/store"
)

// Extractor is the OCR collaborator for image uploads.
type Extractor interface {
	Extract(ctx context.Context, filename string, image io.Reader) (ocr.Result, error)
}

// Enqueuer schedules embedding work for a freshly ingested receipt.
type Enqueuer interface {
	Enqueue(ctx context.Context, receiptID string, force bool) (queue.JobStatus, error)
}

// Intake turns an uploaded file into a Receipt row: original stored in the
// object store, text extracted (local parse or OCR), embedding job enqueued.
type Intake struct {
	store   store.Store
	objects storage.ObjectStore
	ocr     Extractor
	queue   Enqueuer
}

func NewIntake(st store.Store, objects storage.ObjectStore, extractor Extractor, enqueuer Enqueuer) *Intake {
	return &Intake{store: st, objects: objects, ocr: extractor, queue: enqueuer}
}

// IngestUpload processes one upload. Extraction failures mark the receipt
// status=error and are not returned as errors; the upload itself succeeded.
func (in *Intake) IngestUpload(ctx context.Context, userID, filename, contentType string, data []byte) (domain.Receipt, error) {
	if err := validateUserID(userID); err != nil {
		return domain.Receipt{}, err
	}
	if len(data) == 0 {
		return domain.Receipt{}, fmt.Errorf("%w: empty upload", ErrInvalidInput)
	}

	now := time.Now().UTC()
	receipt := domain.Receipt{
		ID:              uuid.NewString(),
		UserID:          userID,
		Status:          domain.ReceiptProcessing,
		EmbeddingStatus: domain.EmbeddingPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if in.objects != nil {
		key := storage.ReceiptKey(userID, receipt.ID, filename)
		if err := in.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return domain.Receipt{}, fmt.Errorf("store upload: %w", err)
		}
		receipt.StorageKey = key
	}

	if err := in.store.SaveReceipt(receipt); err != nil {
		return domain.Receipt{}, fmt.Errorf("save receipt: %w", err)
	}

	if err := in.extractInto(ctx, &receipt, filename, data); err != nil {
		receipt.Status = domain.ReceiptError
		receipt.ErrorMessage = err.Error()
		receipt.UpdatedAt = time.Now().UTC()
		if saveErr := in.store.SaveReceipt(receipt); saveErr != nil {
			return domain.Receipt{}, fmt.Errorf("record extraction failure: %w", saveErr)
		}
		slog.Warn("receipt extraction failed", "receipt_id", receipt.ID, "err", err)
		return receipt, nil
	}

	receipt.Status = domain.ReceiptReady
	receipt.UpdatedAt = time.Now().UTC()
	if err := in.store.SaveReceipt(receipt); err != nil {
		return domain.Receipt{}, fmt.Errorf("save receipt: %w", err)
	}

	if in.queue != nil {
		if _, err := in.queue.Enqueue(ctx, receipt.ID, false); err != nil {
			// The periodic sync will pick the receipt up anyway.
			slog.Warn("enqueue embedding job failed", "receipt_id", receipt.ID, "err", err)
		}
	}
	return receipt, nil
}

func (in *Intake) extractInto(ctx context.Context, receipt *domain.Receipt, filename string, data []byte) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, _, err := extractPDFText(data)
		if err != nil {
			return err
		}
		receipt.RawText = text
		return nil
	case ".html", ".htm":
		text, err := extractHTMLText(data)
		if err != nil {
			return err
		}
		receipt.RawText = text
		return nil
	default:
		if in.ocr == nil {
			return fmt.Errorf("no ocr client configured for %s uploads", filepath.Ext(filename))
		}
		result, err := in.ocr.Extract(ctx, filename, bytes.NewReader(data))
		if err != nil {
			return err
		}
		receipt.RawText = result.RawText
		receipt.Merchant = result.Merchant
		if receipt.Merchant == "" {
			receipt.Merchant = result.DetectedStore
		}
		receipt.PurchaseDate = result.PurchaseDate
		receipt.Total = result.Total
		receipt.Currency = result.Currency
		receipt.Items = result.Items
		return nil
	}
}
