package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"groceryai/pkg/ai"
	"groceryai/pkg/domain"
	"groceryai/pkg/store"
)

// ErrInvalidInput marks malformed request input. Handlers map it to 400;
// everything else is an operational failure.
var ErrInvalidInput = errors.New("invalid input")

// Provider is the slice of the AI client the orchestrator needs.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) (ai.EmbedResult, error)
	EmbedText(ctx context.Context, text string) ([]float32, domain.Usage, error)
	Complete(ctx context.Context, messages []ai.Message, opts ai.CompleteOptions) (ai.Completion, error)
}

// Options hold the tunables resolved from config at startup.
type Options struct {
	TopK              int
	MaxContextChunks  int
	ChunkSizeWords    int
	EmbeddingsVersion int
	SyncPageSize      int
}

// App is the RAG orchestrator: status probe, retrieval, answering and the
// embedding sync job all hang off it.
type App struct {
	store    store.Store
	provider Provider
	opts     Options
}

func New(st store.Store, provider Provider, opts Options) *App {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxContextChunks <= 0 {
		opts.MaxContextChunks = 8
	}
	if opts.ChunkSizeWords <= 0 {
		opts.ChunkSizeWords = 150
	}
	if opts.EmbeddingsVersion <= 0 {
		opts.EmbeddingsVersion = 1
	}
	if opts.SyncPageSize <= 0 {
		opts.SyncPageSize = 10
	}
	return &App{store: st, provider: provider, opts: opts}
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	anglesRe     = regexp.MustCompile(`[<>]`)
	isoDateRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// sanitizeQuestion normalizes whitespace, strips angle brackets and enforces
// the 3-500 character bounds.
func sanitizeQuestion(question string) (string, error) {
	q := anglesRe.ReplaceAllString(question, "")
	q = strings.TrimSpace(whitespaceRe.ReplaceAllString(q, " "))
	runes := utf8.RuneCountInString(q)
	if runes < 3 {
		return "", fmt.Errorf("%w: question must be at least 3 characters", ErrInvalidInput)
	}
	if runes > 500 {
		return "", fmt.Errorf("%w: question must be at most 500 characters", ErrInvalidInput)
	}
	return q, nil
}

const maxReceiptIDFilter = 25

func validateReceiptIDs(ids []string) error {
	if len(ids) > maxReceiptIDFilter {
		return fmt.Errorf("%w: at most %d receipt ids may be filtered", ErrInvalidInput, maxReceiptIDFilter)
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: receipt ids must be non-empty", ErrInvalidInput)
		}
	}
	return nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	return nil
}

func validateDateRange(r *domain.DateRange) error {
	if r == nil {
		return nil
	}
	if r.From == "" && r.To == "" {
		return nil
	}
	if r.From != "" && !isoDateRe.MatchString(r.From) {
		return fmt.Errorf("%w: dateRange.from must be YYYY-MM-DD", ErrInvalidInput)
	}
	if r.To != "" && !isoDateRe.MatchString(r.To) {
		return fmt.Errorf("%w: dateRange.to must be YYYY-MM-DD", ErrInvalidInput)
	}
	if r.From != "" && r.To != "" && r.From > r.To {
		return fmt.Errorf("%w: dateRange.from is after dateRange.to", ErrInvalidInput)
	}
	return nil
}

func (a *App) resolveTopK(requested int) (int, error) {
	if requested == 0 {
		return a.opts.TopK, nil
	}
	if requested < 1 || requested > 25 {
		return 0, fmt.Errorf("%w: topK must be between 1 and 25", ErrInvalidInput)
	}
	return requested, nil
}
