package chunker

import (
	"strings"
	"testing"

	"groceryai/pkg/domain"
)

func price(v float64) *float64 { return &v }

func sampleReceipt(rawText string) domain.Receipt {
	return domain.Receipt{
		ID:           "r-1",
		UserID:       "u-1",
		RawText:      rawText,
		Merchant:     "Farmer Market",
		PurchaseDate: "2026-08-12",
		Total:        price(42.13),
		Currency:     "USD",
		Items: []domain.ReceiptItem{
			{Name: "Apples", Quantity: 2, Price: price(3.99)},
			{Name: "Spinach", Quantity: 1, Price: price(4.50)},
		},
	}
}

func TestChunkRequiresIdentifiers(t *testing.T) {
	r := sampleReceipt("some text")
	r.ID = ""
	if _, err := Chunk(r, 0); err != ErrMissingReceiptID {
		t.Fatalf("expected ErrMissingReceiptID, got %v", err)
	}
	r = sampleReceipt("some text")
	r.UserID = "  "
	if _, err := Chunk(r, 0); err != ErrMissingUserID {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
}

func TestChunkIndexesAreContiguousAndBodyReconstructs(t *testing.T) {
	long := strings.Repeat("word ", 400)
	r := sampleReceipt(long)
	drafts, err := Chunk(r, 100)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(drafts) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(drafts))
	}
	var rebuilt []string
	for i, d := range drafts {
		if d.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, d.ChunkIndex)
		}
		lines := strings.Split(d.Text, "\n")
		if !strings.HasPrefix(lines[0], "Receipt summary - Merchant: Farmer Market") {
			t.Fatalf("chunk %d missing summary preamble: %q", i, lines[0])
		}
		if !strings.HasPrefix(lines[1], "Categories: ") {
			t.Fatalf("chunk %d missing category line: %q", i, lines[1])
		}
		rebuilt = append(rebuilt, strings.Join(lines[2:], "\n"))
	}
	normalized := NormalizeText(long)
	combined := normalized + "\n\nApples x2 @ 3.99; Spinach @ 4.50"
	got := strings.Fields(strings.Join(rebuilt, " "))
	want := strings.Fields(combined)
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("chunk bodies do not reconstruct source text")
	}
}

func TestChunkEmptyReceiptYieldsSinglePlaceholder(t *testing.T) {
	r := sampleReceipt("")
	r.Items = nil
	drafts, err := Chunk(r, 0)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected one chunk, got %d", len(drafts))
	}
	if drafts[0].Metadata.HasContent {
		t.Fatalf("expected hasContent=false")
	}
	if !strings.Contains(drafts[0].Text, "no readable text") {
		t.Fatalf("expected placeholder body, got %q", drafts[0].Text)
	}
}

func TestChunkIsDeterministic(t *testing.T) {
	r := sampleReceipt("MILK 2.49\nBREAD 1.99\n" + strings.Repeat("filler ", 300))
	first, err := Chunk(r, 120)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	second, err := Chunk(r, 120)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text || first[i].ChunkIndex != second[i].ChunkIndex {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestChunkSizeClamping(t *testing.T) {
	long := strings.Repeat("word ", 250)
	r := sampleReceipt(long)

	// Requested size below the floor is clamped to 50 words.
	drafts, err := Chunk(r, 10)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	for _, d := range drafts {
		if d.Metadata.ChunkSizeWords != 50 {
			t.Fatalf("chunkSizeWords = %d, want 50", d.Metadata.ChunkSizeWords)
		}
		if d.Metadata.WordCount > 50 {
			t.Fatalf("window of %d words exceeds clamp", d.Metadata.WordCount)
		}
	}

	drafts, err = Chunk(r, 1000)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if drafts[0].Metadata.ChunkSizeWords != 200 {
		t.Fatalf("chunkSizeWords = %d, want 200", drafts[0].Metadata.ChunkSizeWords)
	}
}

func TestNormalizeText(t *testing.T) {
	raw := "STORE\r\n====\r\nMILK   2.49\n\n\n\nTOTAL\t5.00\x00\x07"
	got := NormalizeText(raw)
	want := "STORE\n-\nMILK 2.49\n\nTOTAL 5.00"
	if got != want {
		t.Fatalf("NormalizeText = %q, want %q", got, want)
	}
}

func TestRenderItemsOmitsSingleQuantityAndUnpriced(t *testing.T) {
	items := []domain.ReceiptItem{
		{Name: "Apples", Quantity: 2, Price: price(3.99)},
		{Name: "Bag", Quantity: 1},
		{Name: "Spinach", Quantity: 1, Price: price(4.50)},
	}
	got := renderItems(items)
	want := "Apples x2 @ 3.99; Spinach @ 4.50"
	if got != want {
		t.Fatalf("renderItems = %q, want %q", got, want)
	}
}

func TestDetectCategories(t *testing.T) {
	items := []domain.ReceiptItem{
		{Name: "Whole Milk 2%"},
		{Name: "Sourdough Bread"},
		{Name: "ORGANIC SPINACH"},
	}
	got := DetectCategories(items)
	want := []string{"bakery", "dairy", "produce"}
	if len(got) != len(want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("categories = %v, want %v", got, want)
		}
	}
	if DetectCategories(nil) != nil {
		t.Fatalf("expected nil categories for no items")
	}
}

func TestSummaryLineDefaults(t *testing.T) {
	r := domain.Receipt{ID: "r-2", UserID: "u-1"}
	line := summaryLine(r)
	for _, fragment := range []string{"Unknown merchant", "Unknown date", "Unknown total"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("summary %q missing %q", line, fragment)
		}
	}
}
