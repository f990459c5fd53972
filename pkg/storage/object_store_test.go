package storage

import "testing"

func TestReceiptKey(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"scan.JPG", "receipts/u1/r1.jpg"},
		{"receipt.pdf", "receipts/u1/r1.pdf"},
		{"emailbody", "receipts/u1/r1.bin"},
	}
	for _, tc := range cases {
		if got := ReceiptKey("u1", "r1", tc.filename); got != tc.want {
			t.Fatalf("ReceiptKey(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}
