package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"groceryai/internal/app"
	"groceryai/pkg/domain"
)

const maxUploadBytes = 15 << 20

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.intake == nil {
		writeError(w, http.StatusInternalServerError, "intake not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload failed")
		return
	}

	receipt, err := s.intake.IngestUpload(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("ingest upload failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type chatRequest struct {
	Question   string            `json:"question"`
	ReceiptIDs []string          `json:"receiptIds,omitempty"`
	DateRange  *domain.DateRange `json:"dateRange,omitempty"`
	TopK       int               `json:"topK,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.chatLimiter != nil && !s.chatLimiter.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	answer, err := s.chat.Chat(r.Context(), domain.ChatQuery{
		UserID:     userID,
		Question:   req.Question,
		ReceiptIDs: req.ReceiptIDs,
		DateRange:  req.DateRange,
		TopK:       req.TopK,
	})
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("chat failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "chat failed")
		return
	}

	s.publishChatTurn(r, userID, answer)
	writeJSON(w, http.StatusOK, answer)
}

// publishChatTurn ships both turns to the history queue, best-effort.
func (s *Server) publishChatTurn(r *http.Request, userID string, answer domain.ChatAnswer) {
	if s.messages == nil {
		return
	}
	now := time.Now().UTC()
	turns := []domain.Message{
		{ID: uuid.NewString(), UserID: userID, Role: "user", Content: answer.Question, CreatedAt: now},
		{ID: uuid.NewString(), UserID: userID, Role: "assistant", Content: answer.Answer, Sources: answer.Sources, CreatedAt: now},
	}
	for _, msg := range turns {
		if err := s.messages.Publish(r.Context(), msg); err != nil {
			slog.Warn("publish chat message failed", "user_id", userID, "err", err)
			return
		}
	}
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusInternalServerError, "history store not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	messages, err := s.history.ListMessagesByUser(userID, limit)
	if err != nil {
		slog.Error("list chat history failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "list history failed")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleEmbeddingStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var receiptIDs []string
	if raw := strings.TrimSpace(r.URL.Query().Get("receiptIds")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				receiptIDs = append(receiptIDs, id)
			}
		}
	}
	report, err := s.chat.CheckEmbeddingStatus(userID, receiptIDs)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("embedding status failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "status check failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type syncRequest struct {
	ReceiptID string `json:"receiptId,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

func (s *Server) handleEmbeddingSync(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req syncRequest
	if r.Body != nil {
		// An empty body is a full-page sync.
		_ = json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req)
	}
	stats, err := s.chat.TriggerEmbedding(r.Context(), userID, req.ReceiptID, req.Force)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("trigger embedding failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed":  stats.Processed,
		"succeeded":  stats.Succeeded,
		"failed":     stats.Failed,
		"durationMs": stats.Duration.Milliseconds(),
	})
}
