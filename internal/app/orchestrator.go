package app

import (
	"context"
	"fmt"
	"strings"

	"groceryai/pkg/ai"
	"groceryai/pkg/domain"
	"groceryai/pkg/store"
)

const systemPrompt = `You are a grocery receipt assistant. You answer questions using ONLY the receipt excerpts provided in the context block.
Scan EVERY excerpt before answering; items belonging to one category (dairy, produce, snacks, beverages and so on) may be spread across several receipts.
When asked about spending, add up amounts carefully and show the arithmetic.
If the context does not contain the information needed, say so plainly. Never guess, never invent merchants, dates, prices or items that are not in the context.`

const noChunksAnswer = "I couldn't find anything relevant in your receipts for that question."

// RetrievedContext is the output of the retrieval step.
type RetrievedContext struct {
	Chunks            []domain.ChunkResult
	SanitizedQuestion string
	Usage             domain.Usage
}

// CheckEmbeddingStatus is a pure read over ready receipts.
func (a *App) CheckEmbeddingStatus(userID string, receiptIDs []string) (domain.EmbeddingStatusReport, error) {
	if err := validateUserID(userID); err != nil {
		return domain.EmbeddingStatusReport{}, err
	}
	if err := validateReceiptIDs(receiptIDs); err != nil {
		return domain.EmbeddingStatusReport{}, err
	}
	report, err := a.store.CountEmbeddingStatus(userID, receiptIDs)
	if err != nil {
		return domain.EmbeddingStatusReport{}, fmt.Errorf("count embedding status: %w", err)
	}
	return report, nil
}

// RetrieveContext validates the query, embeds the question and searches the
// chunk store.
func (a *App) RetrieveContext(ctx context.Context, query domain.ChatQuery) (RetrievedContext, error) {
	if err := validateUserID(query.UserID); err != nil {
		return RetrievedContext{}, err
	}
	question, err := sanitizeQuestion(query.Question)
	if err != nil {
		return RetrievedContext{}, err
	}
	if err := validateReceiptIDs(query.ReceiptIDs); err != nil {
		return RetrievedContext{}, err
	}
	if err := validateDateRange(query.DateRange); err != nil {
		return RetrievedContext{}, err
	}
	topK, err := a.resolveTopK(query.TopK)
	if err != nil {
		return RetrievedContext{}, err
	}

	vector, usage, err := a.provider.EmbedText(ctx, question)
	if err != nil {
		return RetrievedContext{}, fmt.Errorf("embed question: %w", err)
	}
	chunks, err := a.store.SearchChunks(vector, store.SearchFilter{
		UserID:     query.UserID,
		ReceiptIDs: query.ReceiptIDs,
		DateRange:  query.DateRange,
	}, topK)
	if err != nil {
		return RetrievedContext{}, fmt.Errorf("search chunks: %w", err)
	}
	return RetrievedContext{Chunks: chunks, SanitizedQuestion: question, Usage: usage}, nil
}

// GenerateAnswer renders the retrieved chunks into a context block and asks
// the completion model. With no chunks it short-circuits without a model call.
func (a *App) GenerateAnswer(ctx context.Context, question string, chunks []domain.ChunkResult) (string, []domain.Source, domain.Usage, int, error) {
	if len(chunks) == 0 {
		return noChunksAnswer, []domain.Source{}, domain.Usage{}, 0, nil
	}
	rendered := chunks
	if len(rendered) > a.opts.MaxContextChunks {
		rendered = rendered[:a.opts.MaxContextChunks]
	}

	var b strings.Builder
	b.WriteString("Receipt excerpts:\n\n")
	for i, chunk := range rendered {
		fmt.Fprintf(&b, "[%d] Receipt %s", i+1, chunk.ReceiptID)
		if chunk.Merchant != "" {
			fmt.Fprintf(&b, " | Merchant: %s", chunk.Merchant)
		}
		if chunk.PurchaseDate != "" {
			fmt.Fprintf(&b, " | Date: %s", chunk.PurchaseDate)
		}
		if chunk.Total != nil {
			fmt.Fprintf(&b, " | Total: %.2f", *chunk.Total)
		}
		if len(chunk.ItemNames) > 0 {
			fmt.Fprintf(&b, " | Items: %s", strings.Join(chunk.ItemNames, ", "))
		}
		b.WriteString("\n")
		b.WriteString(chunk.Text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question: %s", question)

	completion, err := a.provider.Complete(ctx, []ai.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}, ai.CompleteOptions{})
	if err != nil {
		return "", nil, domain.Usage{}, 0, fmt.Errorf("generate answer: %w", err)
	}

	return completion.Message, dedupeSources(chunks), completion.Usage, len(rendered), nil
}

// dedupeSources keeps the first chunk per receipt, preserving search order.
func dedupeSources(chunks []domain.ChunkResult) []domain.Source {
	seen := make(map[string]bool, len(chunks))
	sources := make([]domain.Source, 0, len(chunks))
	for _, chunk := range chunks {
		if seen[chunk.ReceiptID] {
			continue
		}
		seen[chunk.ReceiptID] = true
		sources = append(sources, domain.Source{
			ReceiptID:    chunk.ReceiptID,
			Merchant:     chunk.Merchant,
			PurchaseDate: chunk.PurchaseDate,
			Total:        chunk.Total,
			Score:        chunk.Score,
		})
	}
	return sources
}

// Chat is the composed entry point. Every branch returns the same answer
// shape; "no results" is an answer, not an error.
func (a *App) Chat(ctx context.Context, query domain.ChatQuery) (domain.ChatAnswer, error) {
	if err := validateUserID(query.UserID); err != nil {
		return domain.ChatAnswer{}, err
	}
	question, err := sanitizeQuestion(query.Question)
	if err != nil {
		return domain.ChatAnswer{}, err
	}
	if err := validateReceiptIDs(query.ReceiptIDs); err != nil {
		return domain.ChatAnswer{}, err
	}
	if err := validateDateRange(query.DateRange); err != nil {
		return domain.ChatAnswer{}, err
	}
	if _, err := a.resolveTopK(query.TopK); err != nil {
		return domain.ChatAnswer{}, err
	}

	status, err := a.CheckEmbeddingStatus(query.UserID, query.ReceiptIDs)
	if err != nil {
		return domain.ChatAnswer{}, err
	}
	diag := domain.Diagnostic{
		TotalReceipts:    status.Total,
		EmbeddedReceipts: status.Synced,
		PendingReceipts:  status.Pending,
		FailedReceipts:   status.Failed,
	}

	if status.Total == 0 {
		return domain.ChatAnswer{
			Answer:     "You haven't uploaded any receipts yet. Upload a few and ask me again.",
			Sources:    []domain.Source{},
			Question:   question,
			Diagnostic: diag,
		}, nil
	}

	// When nothing is embedded yet, answer early instead of searching an
	// empty index.
	if status.Synced == 0 && status.Pending > 0 {
		return domain.ChatAnswer{
			Answer:     fmt.Sprintf("Your receipts are still being processed (%d pending). Try again in a moment.", status.Pending),
			Sources:    []domain.Source{},
			Question:   question,
			Diagnostic: diag,
		}, nil
	}

	retrieved, err := a.RetrieveContext(ctx, query)
	if err != nil {
		return domain.ChatAnswer{}, err
	}
	diag.ChunksFound = len(retrieved.Chunks)

	if len(retrieved.Chunks) == 0 {
		answer := "I couldn't find receipts matching your question."
		if status.Pending > 0 {
			answer += fmt.Sprintf(" %d receipt(s) are still processing and were not searched.", status.Pending)
		}
		if status.Failed > 0 {
			answer += fmt.Sprintf(" %d receipt(s) failed to process.", status.Failed)
		}
		return domain.ChatAnswer{
			Answer:     answer,
			Sources:    []domain.Source{},
			Usage:      retrieved.Usage,
			Question:   retrieved.SanitizedQuestion,
			Diagnostic: diag,
		}, nil
	}

	answer, sources, usage, contextChunks, err := a.GenerateAnswer(ctx, retrieved.SanitizedQuestion, retrieved.Chunks)
	if err != nil {
		return domain.ChatAnswer{}, err
	}
	return domain.ChatAnswer{
		Answer:        answer,
		Sources:       sources,
		Usage:         retrieved.Usage.Add(usage),
		ContextChunks: contextChunks,
		Question:      retrieved.SanitizedQuestion,
		Diagnostic:    diag,
	}, nil
}
