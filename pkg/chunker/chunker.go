package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"groceryai/pkg/domain"
)

const (
	// DefaultChunkSizeWords is used when configuration does not provide one.
	DefaultChunkSizeWords = 150
	minChunkSizeWords     = 50
	maxChunkSizeWords     = 200

	emptyReceiptText = "This receipt has no readable text or item details provided."
)

var (
	ErrMissingReceiptID = errors.New("receipt id required for chunking")
	ErrMissingUserID    = errors.New("receipt user id required for chunking")
)

var (
	crlfRe        = regexp.MustCompile(`\r\n?`)
	spaceRunRe    = regexp.MustCompile(`[ \t\f\v]+`)
	decorationRe  = regexp.MustCompile(`[-=]{2,}`)
	nonPrintingRe = regexp.MustCompile("[^\x20-\x7e\n]")
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// Chunk splits a receipt into word-bounded, metadata-tagged drafts ready for
// embedding. Output is deterministic for identical input, which the store's
// (receiptId, chunkIndex) upsert relies on.
func Chunk(receipt domain.Receipt, chunkSizeWords int) ([]domain.ChunkDraft, error) {
	if strings.TrimSpace(receipt.ID) == "" {
		return nil, ErrMissingReceiptID
	}
	if strings.TrimSpace(receipt.UserID) == "" {
		return nil, ErrMissingUserID
	}
	size := clampChunkSize(chunkSizeWords)

	normalized := NormalizeText(receipt.RawText)
	rendered := renderItems(receipt.Items)
	combined := normalized
	if rendered != "" {
		if combined != "" {
			combined += "\n\n"
		}
		combined += rendered
	}

	preamble := summaryLine(receipt)
	categories := DetectCategories(receipt.Items)
	header := preamble
	if len(categories) > 0 {
		header += "\nCategories: " + strings.Join(categories, ", ")
	}

	itemNames := make([]string, 0, len(receipt.Items))
	for _, item := range receipt.Items {
		itemNames = append(itemNames, item.Name)
	}

	baseMeta := domain.ChunkMetadata{
		Currency:       receipt.Currency,
		ChunkSizeWords: size,
		ItemCount:      len(receipt.Items),
		Categories:     categories,
	}

	draft := func(index int, text string, meta domain.ChunkMetadata) domain.ChunkDraft {
		return domain.ChunkDraft{
			ReceiptID:    receipt.ID,
			UserID:       receipt.UserID,
			ChunkIndex:   index,
			Text:         text,
			Merchant:     receipt.Merchant,
			PurchaseDate: receipt.PurchaseDate,
			Total:        receipt.Total,
			ItemNames:    itemNames,
			Metadata:     meta,
		}
	}

	if strings.TrimSpace(combined) == "" {
		meta := baseMeta
		meta.HasContent = false
		meta.WordCount = 0
		return []domain.ChunkDraft{draft(0, header+"\n"+emptyReceiptText, meta)}, nil
	}

	words := strings.Fields(combined)
	drafts := make([]domain.ChunkDraft, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		window := words[start:end]
		meta := baseMeta
		meta.HasContent = true
		meta.WordCount = len(window)
		drafts = append(drafts, draft(len(drafts), header+"\n"+strings.Join(window, " "), meta))
	}
	return drafts, nil
}

func clampChunkSize(size int) int {
	if size <= 0 {
		size = DefaultChunkSizeWords
	}
	if size < minChunkSizeWords {
		return minChunkSizeWords
	}
	if size > maxChunkSizeWords {
		return maxChunkSizeWords
	}
	return size
}

// NormalizeText cleans raw OCR output: unified newlines, single spaces,
// no decoration runs, printable ASCII only, at most one blank line in a row.
func NormalizeText(text string) string {
	text = crlfRe.ReplaceAllString(text, "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = decorationRe.ReplaceAllString(text, "-")
	text = nonPrintingRe.ReplaceAllString(text, "")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// renderItems lists priced items as "name xQty @ price; ...".
// The quantity token is omitted for single items.
func renderItems(items []domain.ReceiptItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" || item.Price == nil {
			continue
		}
		if item.Quantity > 1 {
			parts = append(parts, fmt.Sprintf("%s x%d @ %.2f", name, item.Quantity, *item.Price))
		} else {
			parts = append(parts, fmt.Sprintf("%s @ %.2f", name, *item.Price))
		}
	}
	return strings.Join(parts, "; ")
}

func summaryLine(receipt domain.Receipt) string {
	merchant := strings.TrimSpace(receipt.Merchant)
	if merchant == "" {
		merchant = "Unknown merchant"
	}
	date := strings.TrimSpace(receipt.PurchaseDate)
	if date == "" {
		date = "Unknown date"
	}
	total := "Unknown total"
	if receipt.Total != nil {
		currency := strings.TrimSpace(receipt.Currency)
		if currency == "" {
			total = fmt.Sprintf("%.2f", *receipt.Total)
		} else {
			total = fmt.Sprintf("%s %.2f", currency, *receipt.Total)
		}
	}
	return fmt.Sprintf("Receipt summary - Merchant: %s | Date: %s | Total: %s", merchant, date, total)
}
