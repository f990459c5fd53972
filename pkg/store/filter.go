package store

import (
	"strings"

	"groceryai/pkg/domain"
)

// SearchFilter restricts a similarity search. UserID is always required;
// ReceiptIDs takes precedence over ReceiptID when both are set.
type SearchFilter struct {
	UserID     string
	ReceiptID  string
	ReceiptIDs []string
	DateRange  *domain.DateRange
}

// HasNarrowing reports whether anything beyond the user scope is filtered.
// Any filter makes the ANN pre-filter approximate, so searches over-fetch
// candidates whenever one is present.
func (f SearchFilter) HasNarrowing() bool {
	return len(f.ReceiptIDs) > 0 || strings.TrimSpace(f.ReceiptID) != "" || f.dateNarrowing()
}

func (f SearchFilter) dateNarrowing() bool {
	return f.DateRange != nil && (f.DateRange.From != "" || f.DateRange.To != "")
}

// Matches re-applies the filter exactly. This is the correctness guard
// against the vector index under-returning or mis-returning on selective
// pre-filters: every candidate is re-checked before it counts toward topK.
func (f SearchFilter) Matches(chunk domain.ReceiptChunk) bool {
	if chunk.UserID != f.UserID {
		return false
	}
	if len(f.ReceiptIDs) > 0 {
		found := false
		for _, id := range f.ReceiptIDs {
			if chunk.ReceiptID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	} else if id := strings.TrimSpace(f.ReceiptID); id != "" && chunk.ReceiptID != id {
		return false
	}
	if f.dateNarrowing() {
		date := chunk.PurchaseDate
		if date == "" {
			return false
		}
		// ISO-ish strings compare lexicographically.
		if f.DateRange.From != "" && f.DateRange.To != "" && f.DateRange.From == f.DateRange.To {
			return date == f.DateRange.From
		}
		if f.DateRange.From != "" && date < f.DateRange.From {
			return false
		}
		if f.DateRange.To != "" && date > f.DateRange.To {
			return false
		}
	}
	return true
}

// candidateLimit inflates the index fetch size when filters are present to
// compensate for approximate pre-filtering, capped at 100.
func candidateLimit(topK int, filtered bool) int {
	if !filtered {
		return topK
	}
	candidates := topK * 5
	if candidates > 100 {
		candidates = 100
	}
	if candidates < topK {
		candidates = topK
	}
	return candidates
}
