package app

import (
	"context"
	"sort"
	"sync"

	"groceryai/pkg/ai"
	"groceryai/pkg/domain"
	"groceryai/pkg/store"
)

// fakeStore is an in-memory store.Store for orchestrator and sync tests.
type fakeStore struct {
	mu       sync.Mutex
	receipts map[string]domain.Receipt
	chunks   map[string]map[int]domain.ReceiptChunk
	messages []domain.Message

	searchResults []domain.ChunkResult
	searchErr     error
	lastSearchK   int
	lastFilter    store.SearchFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		receipts: make(map[string]domain.Receipt),
		chunks:   make(map[string]map[int]domain.ReceiptChunk),
	}
}

func (f *fakeStore) SaveReceipt(receipt domain.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[receipt.ID] = receipt
	return nil
}

func (f *fakeStore) GetReceipt(id string) (domain.Receipt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[id]
	return r, ok, nil
}

func (f *fakeStore) ListReceiptsByUser(userID string, limit int) ([]domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Receipt
	for _, r := range f.receipts {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SetReceiptStatus(id string, status domain.ReceiptStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.receipts[id]
	r.Status = status
	r.ErrorMessage = errMsg
	f.receipts[id] = r
	return nil
}

func (f *fakeStore) SetEmbeddingStatus(id string, status domain.EmbeddingStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.receipts[id]
	r.EmbeddingStatus = status
	r.ErrorMessage = errMsg
	f.receipts[id] = r
	return nil
}

func (f *fakeStore) MarkReceiptSynced(id string, embeddingsVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.receipts[id]
	r.EmbeddingStatus = domain.EmbeddingSynced
	r.EmbeddingsVersion = embeddingsVersion
	r.ErrorMessage = ""
	f.receipts[id] = r
	return nil
}

func (f *fakeStore) ListEligibleForEmbedding(q store.EligibilityQuery) ([]domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	var ids []string
	for id := range f.receipts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []domain.Receipt
	for _, id := range ids {
		r := f.receipts[id]
		if r.Status != domain.ReceiptReady {
			continue
		}
		if !q.Force && r.EmbeddingStatus == domain.EmbeddingSynced && r.EmbeddingsVersion >= q.TargetVersion {
			continue
		}
		if q.UserID != "" && r.UserID != q.UserID {
			continue
		}
		if q.ReceiptID != "" && r.ID != q.ReceiptID {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CountEmbeddingStatus(userID string, receiptIDs []string) (domain.EmbeddingStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allow := make(map[string]bool, len(receiptIDs))
	for _, id := range receiptIDs {
		allow[id] = true
	}
	report := domain.EmbeddingStatusReport{PerReceiptStatus: make(map[string]domain.EmbeddingStatus)}
	for _, r := range f.receipts {
		if r.UserID != userID || r.Status != domain.ReceiptReady {
			continue
		}
		if len(receiptIDs) > 0 && !allow[r.ID] {
			continue
		}
		report.Total++
		switch r.EmbeddingStatus {
		case domain.EmbeddingSynced:
			report.Synced++
		case domain.EmbeddingFailed:
			report.Failed++
		default:
			report.Pending++
		}
		report.PerReceiptStatus[r.ID] = r.EmbeddingStatus
	}
	report.Ready = report.Total > 0 && report.Synced == report.Total
	return report, nil
}

func (f *fakeStore) UpsertChunks(chunks []domain.ReceiptChunk) (store.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := store.UpsertResult{}
	for _, chunk := range chunks {
		byIndex := f.chunks[chunk.ReceiptID]
		if byIndex == nil {
			byIndex = make(map[int]domain.ReceiptChunk)
			f.chunks[chunk.ReceiptID] = byIndex
		}
		if _, ok := byIndex[chunk.ChunkIndex]; ok {
			result.MatchedCount++
			result.ModifiedCount++
		} else {
			result.UpsertedCount++
		}
		byIndex[chunk.ChunkIndex] = chunk
	}
	return result, nil
}

func (f *fakeStore) SearchChunks(query []float32, filter store.SearchFilter, topK int) ([]domain.ChunkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSearchK = topK
	f.lastFilter = filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	results := f.searchResults
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (f *fakeStore) DeleteChunksFrom(receiptID string, fromIndex int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for idx := range f.chunks[receiptID] {
		if idx >= fromIndex {
			delete(f.chunks[receiptID], idx)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) AppendMessage(msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) ListMessagesByUser(userID string, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeProvider counts provider calls and returns canned responses.
type fakeProvider struct {
	mu          sync.Mutex
	embedCalls  int
	batchCalls  int
	chatCalls   int
	embedErr    error
	completeErr error
	answer      string
	dim         int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{answer: "canned answer", dim: 3}
}

func (p *fakeProvider) EmbedBatch(ctx context.Context, texts []string) (ai.EmbedResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCalls++
	if p.embedErr != nil {
		return ai.EmbedResult{}, p.embedErr
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = make([]float32, p.dim)
		embeddings[i][0] = float32(i + 1)
	}
	return ai.EmbedResult{
		Model:      "fake-embedder",
		Embeddings: embeddings,
		Usage:      domain.Usage{PromptTokens: 7 * len(texts), TotalTokens: 7 * len(texts)},
	}, nil
}

func (p *fakeProvider) EmbedText(ctx context.Context, text string) ([]float32, domain.Usage, error) {
	p.mu.Lock()
	p.embedCalls++
	err := p.embedErr
	p.mu.Unlock()
	if err != nil {
		return nil, domain.Usage{}, err
	}
	return []float32{0.1, 0.2, 0.3}, domain.Usage{PromptTokens: 5, TotalTokens: 5}, nil
}

func (p *fakeProvider) Complete(ctx context.Context, messages []ai.Message, opts ai.CompleteOptions) (ai.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatCalls++
	if p.completeErr != nil {
		return ai.Completion{}, p.completeErr
	}
	return ai.Completion{
		Message: p.answer,
		Model:   "fake-completer",
		Usage:   domain.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}, nil
}
