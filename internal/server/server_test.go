package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"groceryai/internal/app"
	"groceryai/internal/usertoken"
	"groceryai/pkg/domain"
)

type fakeChatService struct {
	answer     domain.ChatAnswer
	chatErr    error
	report     domain.EmbeddingStatusReport
	stats      app.SyncStats
	lastQuery  domain.ChatQuery
	lastIDs    []string
	lastForce  bool
	lastTarget string
}

func (f *fakeChatService) Chat(ctx context.Context, query domain.ChatQuery) (domain.ChatAnswer, error) {
	f.lastQuery = query
	if f.chatErr != nil {
		return domain.ChatAnswer{}, f.chatErr
	}
	return f.answer, nil
}

func (f *fakeChatService) CheckEmbeddingStatus(userID string, receiptIDs []string) (domain.EmbeddingStatusReport, error) {
	f.lastIDs = receiptIDs
	return f.report, nil
}

func (f *fakeChatService) TriggerEmbedding(ctx context.Context, userID, receiptID string, force bool) (app.SyncStats, error) {
	f.lastTarget = receiptID
	f.lastForce = force
	return f.stats, nil
}

type fakeIntake struct {
	receipt domain.Receipt
	err     error
}

func (f *fakeIntake) IngestUpload(ctx context.Context, userID, filename, contentType string, data []byte) (domain.Receipt, error) {
	if f.err != nil {
		return domain.Receipt{}, f.err
	}
	return f.receipt, nil
}

type fakeHistory struct {
	messages []domain.Message
}

func (f *fakeHistory) ListMessagesByUser(userID string, limit int) ([]domain.Message, error) {
	return f.messages, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

const testSecret = "test-secret"

func testToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	cfg.TokenVerifier = verifier
	return New(cfg)
}

func authedRequest(t *testing.T, method, target string, body *bytes.Buffer) *http.Request {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testToken(t, "u1"))
	return req
}

func TestRoutesRequireBearerToken(t *testing.T) {
	s := newTestServer(t, Config{Chat: &fakeChatService{}})
	for _, target := range []string{"/chat", "/receipts", "/embeddings/status", "/embeddings/sync", "/chat/history"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", target, rec.Code)
		}
	}
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t, Config{Chat: &fakeChatService{}})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestChatReturnsAnswerForAuthenticatedUser(t *testing.T) {
	chat := &fakeChatService{answer: domain.ChatAnswer{Answer: "you bought milk", Question: "what milk"}}
	s := newTestServer(t, Config{Chat: chat})

	body := bytes.NewBufferString(`{"question":"what milk did I buy","topK":3}`)
	req := authedRequest(t, http.MethodPost, "/chat", body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var got domain.ChatAnswer
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != "you bought milk" {
		t.Fatalf("answer = %q", got.Answer)
	}
	if chat.lastQuery.UserID != "u1" || chat.lastQuery.TopK != 3 {
		t.Fatalf("query = %+v", chat.lastQuery)
	}
}

func TestChatMapsValidationErrorsTo400(t *testing.T) {
	chat := &fakeChatService{chatErr: fmt.Errorf("%w: question must be at least 3 characters", app.ErrInvalidInput)}
	s := newTestServer(t, Config{Chat: chat})

	req := authedRequest(t, http.MethodPost, "/chat", bytes.NewBufferString(`{"question":"no"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "question must be at least 3 characters") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestChatRateLimited(t *testing.T) {
	s := newTestServer(t, Config{Chat: &fakeChatService{}, ChatLimiter: denyLimiter{}})
	req := authedRequest(t, http.MethodPost, "/chat", bytes.NewBufferString(`{"question":"anything here"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestEmbeddingStatusParsesReceiptIDs(t *testing.T) {
	chat := &fakeChatService{report: domain.EmbeddingStatusReport{Total: 2, Synced: 2, Ready: true}}
	s := newTestServer(t, Config{Chat: chat})

	req := authedRequest(t, http.MethodGet, "/embeddings/status?receiptIds=r1,%20r2,", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(chat.lastIDs) != 2 || chat.lastIDs[0] != "r1" || chat.lastIDs[1] != "r2" {
		t.Fatalf("receipt ids = %v", chat.lastIDs)
	}
	var report domain.EmbeddingStatusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Ready {
		t.Fatalf("report = %+v", report)
	}
}

func TestEmbeddingSyncReturnsRunStats(t *testing.T) {
	chat := &fakeChatService{stats: app.SyncStats{Processed: 3, Succeeded: 2, Failed: 1, Duration: 1500 * time.Millisecond}}
	s := newTestServer(t, Config{Chat: chat})

	req := authedRequest(t, http.MethodPost, "/embeddings/sync", bytes.NewBufferString(`{"receiptId":"r9","force":true}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if chat.lastTarget != "r9" || !chat.lastForce {
		t.Fatalf("sync args: target=%q force=%v", chat.lastTarget, chat.lastForce)
	}
	var stats map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats["processed"].(float64) != 3 || stats["durationMs"].(float64) != 1500 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestReceiptsUploadRequiresFile(t *testing.T) {
	s := newTestServer(t, Config{Chat: &fakeChatService{}, Intake: &fakeIntake{}})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("note", "no file here")
	_ = writer.Close()

	req := authedRequest(t, http.MethodPost, "/receipts", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReceiptsUploadCreatesReceipt(t *testing.T) {
	intake := &fakeIntake{receipt: domain.Receipt{ID: "r1", UserID: "u1", Status: domain.ReceiptReady}}
	s := newTestServer(t, Config{Chat: &fakeChatService{}, Intake: intake})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "scan.jpg")
	_, _ = part.Write([]byte("fake-image"))
	_ = writer.Close()

	req := authedRequest(t, http.MethodPost, "/receipts", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var got domain.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "r1" || got.Status != domain.ReceiptReady {
		t.Fatalf("receipt = %+v", got)
	}
}

func TestChatHistoryListsMessages(t *testing.T) {
	history := &fakeHistory{messages: []domain.Message{{ID: "m1", UserID: "u1", Role: "user", Content: "hi there"}}}
	s := newTestServer(t, Config{Chat: &fakeChatService{}, History: history})

	req := authedRequest(t, http.MethodGet, "/chat/history", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"m1"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, Config{Chat: &fakeChatService{}})
	req := authedRequest(t, http.MethodDelete, "/chat", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
