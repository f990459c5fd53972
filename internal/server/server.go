package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"groceryai/internal/app"
	"groceryai/internal/usertoken"
	"groceryai/internal/util"
	"groceryai/pkg/domain"
)

// ChatService is the orchestrator surface the API exposes.
type ChatService interface {
	Chat(ctx context.Context, query domain.ChatQuery) (domain.ChatAnswer, error)
	CheckEmbeddingStatus(userID string, receiptIDs []string) (domain.EmbeddingStatusReport, error)
	TriggerEmbedding(ctx context.Context, userID, receiptID string, force bool) (app.SyncStats, error)
}

// IntakeService handles receipt uploads.
type IntakeService interface {
	IngestUpload(ctx context.Context, userID, filename, contentType string, data []byte) (domain.Receipt, error)
}

// HistoryStore lists persisted chat messages.
type HistoryStore interface {
	ListMessagesByUser(userID string, limit int) ([]domain.Message, error)
}

// Publisher ships chat turns to the async persistence queue.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// Limiter throttles chat requests per user.
type Limiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Chat          ChatService
	Intake        IntakeService
	History       HistoryStore
	Messages      Publisher
	ChatLimiter   Limiter
	TokenVerifier *usertoken.Verifier
}

// Server exposes the receipt RAG API.
type Server struct {
	chat          ChatService
	intake        IntakeService
	history       HistoryStore
	messages      Publisher
	chatLimiter   Limiter
	tokenVerifier *usertoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		chat:          cfg.Chat,
		intake:        cfg.Intake,
		history:       cfg.History,
		messages:      cfg.Messages,
		chatLimiter:   cfg.ChatLimiter,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware stack applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("api", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/receipts", s.withUser(s.handleReceipts))
	s.mux.Handle("/chat", s.withUser(s.handleChat))
	s.mux.Handle("/chat/history", s.withUser(s.handleChatHistory))
	s.mux.Handle("/embeddings/status", s.withUser(s.handleEmbeddingStatus))
	s.mux.Handle("/embeddings/sync", s.withUser(s.handleEmbeddingSync))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
