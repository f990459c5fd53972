package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"groceryai/internal/app"
	"groceryai/internal/config"
	"groceryai/internal/util"
	"groceryai/pkg/ai"
	"groceryai/pkg/domain"
	"groceryai/pkg/mq"
	"groceryai/pkg/queue"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

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
		jobQueue.Start(groupCtx, cfg.QueueConcurrency, func(jobCtx context.Context, job queue.JobStatus) error {
			receipt, found, err := st.GetReceipt(job.ReceiptID)
			if err != nil {
				return fmt.Errorf("load receipt: %w", err)
			}
			if !found {
				slog.Warn("job for unknown receipt", "receipt_id", job.ReceiptID)
				return nil
			}
			if receipt.Status != domain.ReceiptReady {
				slog.Info("skipping receipt not ready", "receipt_id", receipt.ID, "status", receipt.Status)
				return nil
			}
			if !job.Force && receipt.EmbeddingStatus == domain.EmbeddingSynced && receipt.EmbeddingsVersion >= cfg.EmbeddingsVersion {
				return nil
			}
			return appCore.EmbedReceipt(jobCtx, receipt)
		})
		slog.Info("embedding queue consumers started", "concurrency", cfg.QueueConcurrency)
	}

	if cfg.RabbitURL != "" {
		conn, err := mq.Dial(ctx, cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect rabbitmq: %v", err)
		}
		defer conn.Close()
		persistWorker := mq.NewMessagePersistWorker(conn, st, cfg.ChatMessageQueue)
		if err := persistWorker.Start(groupCtx); err != nil {
			log.Fatalf("failed to start message persist worker: %v", err)
		}
		defer persistWorker.Close()
		slog.Info("chat message persist worker started", "queue", cfg.ChatMessageQueue)
	}

	// Interval sync picks up failed receipts and embeddings-version bumps
	// that no queue job covers.
	group.Go(func() error {
		interval := time.Duration(cfg.SyncIntervalSeconds) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Info("embedding sync loop started", "interval", interval)
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if _, err := appCore.RunSync(groupCtx, false); err != nil && groupCtx.Err() == nil {
					slog.Error("embedding sync failed", "err", err)
				}
			}
		}
	})

	if err := group.Wait(); err != nil {
		logger.Error("worker error", "err", err)
	}
}
