package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"groceryai/pkg/ai"
	"groceryai/pkg/chunker"
	"groceryai/pkg/domain"
	"groceryai/pkg/store"
)

// SyncStats summarizes one embedding run.
type SyncStats struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"-"`
}

// TriggerEmbedding runs one synchronous, request-scoped page of the sync.
// Safe to call repeatedly; the upsert path is idempotent.
func (a *App) TriggerEmbedding(ctx context.Context, userID, receiptID string, force bool) (SyncStats, error) {
	if err := validateUserID(userID); err != nil {
		return SyncStats{}, err
	}
	start := time.Now()
	receipts, err := a.store.ListEligibleForEmbedding(store.EligibilityQuery{
		TargetVersion: a.opts.EmbeddingsVersion,
		Force:         force,
		UserID:        userID,
		ReceiptID:     receiptID,
		Limit:         a.opts.SyncPageSize,
	})
	if err != nil {
		return SyncStats{}, fmt.Errorf("list eligible receipts: %w", err)
	}
	stats := a.processReceipts(ctx, receipts, nil)
	stats.Duration = time.Since(start)
	return stats, nil
}

// RunSync pages through every eligible receipt until none remain. Receipt ids
// already handled in this run are skipped so a mid-run status change cannot
// cause reprocessing when a page is re-queried.
func (a *App) RunSync(ctx context.Context, force bool) (SyncStats, error) {
	start := time.Now()
	processed := make(map[string]bool)
	total := SyncStats{}
	for {
		select {
		case <-ctx.Done():
			total.Duration = time.Since(start)
			return total, ctx.Err()
		default:
		}
		receipts, err := a.store.ListEligibleForEmbedding(store.EligibilityQuery{
			TargetVersion: a.opts.EmbeddingsVersion,
			Force:         force,
			Limit:         a.opts.SyncPageSize,
		})
		if err != nil {
			total.Duration = time.Since(start)
			return total, fmt.Errorf("list eligible receipts: %w", err)
		}
		fresh := receipts[:0:0]
		for _, r := range receipts {
			if !processed[r.ID] {
				fresh = append(fresh, r)
			}
		}
		if len(fresh) == 0 {
			break
		}
		page := a.processReceipts(ctx, fresh, processed)
		total.Processed += page.Processed
		total.Succeeded += page.Succeeded
		total.Failed += page.Failed
	}
	total.Duration = time.Since(start)
	slog.Info("embedding sync complete",
		"processed", total.Processed,
		"succeeded", total.Succeeded,
		"failed", total.Failed,
		"duration_ms", total.Duration.Milliseconds(),
	)
	return total, nil
}

// processReceipts embeds receipts strictly sequentially. A failure on one
// receipt is recorded and never aborts the rest of the batch.
func (a *App) processReceipts(ctx context.Context, receipts []domain.Receipt, processed map[string]bool) SyncStats {
	stats := SyncStats{}
	for _, receipt := range receipts {
		if processed != nil {
			processed[receipt.ID] = true
		}
		stats.Processed++
		if err := a.EmbedReceipt(ctx, receipt); err != nil {
			stats.Failed++
			slog.Warn("embed receipt failed", "receipt_id", receipt.ID, "err", err)
			continue
		}
		stats.Succeeded++
	}
	return stats
}

// EmbedReceipt runs the pending -> synced/failed state machine for one
// receipt: mark pending before any remote call, then chunk, embed in one
// batched call, upsert, prune orphaned chunks, and only then mark synced.
func (a *App) EmbedReceipt(ctx context.Context, receipt domain.Receipt) error {
	if err := a.store.SetEmbeddingStatus(receipt.ID, domain.EmbeddingPending, ""); err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}

	fail := func(err error) error {
		if statusErr := a.store.SetEmbeddingStatus(receipt.ID, domain.EmbeddingFailed, err.Error()); statusErr != nil {
			slog.Error("record embedding failure", "receipt_id", receipt.ID, "err", statusErr)
		}
		return err
	}

	drafts, err := chunker.Chunk(receipt, a.opts.ChunkSizeWords)
	if err != nil {
		return fail(fmt.Errorf("chunk receipt: %w", err))
	}
	texts := make([]string, len(drafts))
	for i, draft := range drafts {
		texts[i] = draft.Text
	}

	result, err := a.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return fail(fmt.Errorf("embed chunks: %w", err))
	}
	if len(result.Embeddings) != len(drafts) {
		return fail(fmt.Errorf("embedding count mismatch: got %d, want %d", len(result.Embeddings), len(drafts)))
	}

	chunks := make([]domain.ReceiptChunk, len(drafts))
	for i, draft := range drafts {
		chunks[i] = domain.ReceiptChunk{
			ReceiptID:    draft.ReceiptID,
			UserID:       draft.UserID,
			ChunkIndex:   draft.ChunkIndex,
			Text:         draft.Text,
			Embedding:    result.Embeddings[i],
			Merchant:     draft.Merchant,
			PurchaseDate: draft.PurchaseDate,
			Total:        draft.Total,
			ItemNames:    draft.ItemNames,
			Metadata:     draft.Metadata,
		}
	}
	if _, err := a.store.UpsertChunks(chunks); err != nil {
		return fail(fmt.Errorf("upsert chunks: %w", err))
	}
	// A shorter re-chunk leaves stale high-index chunks behind; drop them.
	if _, err := a.store.DeleteChunksFrom(receipt.ID, len(chunks)); err != nil {
		return fail(fmt.Errorf("prune chunks: %w", err))
	}
	if err := a.store.MarkReceiptSynced(receipt.ID, a.opts.EmbeddingsVersion); err != nil {
		return fail(fmt.Errorf("mark synced: %w", err))
	}

	attrs := []any{
		"receipt_id", receipt.ID,
		"chunks", len(chunks),
		"tokens", result.Usage.TotalTokens,
	}
	if cost := ai.EstimateCost(result.Model, result.Usage); cost != nil {
		attrs = append(attrs, "estimated_cost_usd", *cost)
	}
	slog.Info("receipt embedded", attrs...)
	return nil
}
