package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"groceryai/internal/app"
	"groceryai/internal/config"
	"groceryai/internal/ocr"
	"groceryai/internal/ratelimit"
	"groceryai/internal/server"
	"groceryai/internal/usertoken"
	"groceryai/internal/util"
	"groceryai/pkg/ai"
	"groceryai/pkg/mq"
	"groceryai/pkg/queue"
	"groceryai/pkg/storage"
	"groceryai/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL,
		store.WithVectorIndexName(cfg.VectorIndexName),
		store.WithEmbeddingDim(cfg.EmbeddingDim),
	)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	aiClient, err := ai.New(ai.Config{
		BaseURL:         cfg.OpenAIBaseURL,
		APIKey:          cfg.OpenAIAPIKey,
		EmbeddingModel:  cfg.EmbeddingModel,
		CompletionModel: cfg.CompletionModel,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBaseDelay:  time.Duration(cfg.RetryBaseDelayMillis) * time.Millisecond,
		Temperature:     cfg.Temperature,
	})
	if err != nil {
		log.Fatalf("failed to init ai client: %v", err)
	}

	appCore := app.New(st, aiClient, app.Options{
		TopK:              cfg.TopK,
		MaxContextChunks:  cfg.MaxContextChunks,
		ChunkSizeWords:    cfg.ChunkSizeWords,
		EmbeddingsVersion: cfg.EmbeddingsVersion,
		SyncPageSize:      cfg.SyncPageSize,
	})

	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: cfg.JWTSecret})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	var extractor app.Extractor
	if cfg.OCRBaseURL != "" {
		ocrClient, err := ocr.New(ocr.Config{
			BaseURL: cfg.OCRBaseURL,
			APIKey:  cfg.OCRAPIKey,
			Timeout: time.Duration(cfg.OCRTimeoutSeconds) * time.Second,
		})
		if err != nil {
			log.Fatalf("failed to init ocr client: %v", err)
		}
		extractor = ocrClient
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
		objects = minioStore
	}

	var enqueuer app.Enqueuer
	var chatLimiter server.Limiter
	if cfg.RedisAddr != "" {
		jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.QueueStream,
			Group:    cfg.QueueGroup,
		})
		if err != nil {
			log.Fatalf("failed to init job queue: %v", err)
		}
		enqueuer = jobQueue

		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "groceryai:ratelimit:chat",
			cfg.ChatRateLimit, time.Duration(cfg.ChatRateWindowSeconds)*time.Second,
		)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		chatLimiter = limiter
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var publisher server.Publisher
	if cfg.RabbitURL != "" {
		conn, err := mq.Dial(ctx, cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect rabbitmq: %v", err)
		}
		defer conn.Close()
		publisher = mq.NewMessagePublisher(conn, cfg.ChatMessageQueue)
	}

	intake := app.NewIntake(st, objects, extractor, enqueuer)

	httpServer := server.New(server.Config{
		Chat:          appCore,
		Intake:        intake,
		History:       st,
		Messages:      publisher,
		ChatLimiter:   chatLimiter,
		TokenVerifier: verifier,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("api server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
