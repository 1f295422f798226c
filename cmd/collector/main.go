package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/uxlensHQ/uxlens/internal/collector"
	"github.com/uxlensHQ/uxlens/internal/config"
	"github.com/uxlensHQ/uxlens/internal/db"
	"github.com/uxlensHQ/uxlens/internal/router"
	"github.com/uxlensHQ/uxlens/internal/tasks"
)

func main() {
	cfg := config.Load()
	log.Printf("Starting UXLens collector on port %d", cfg.Port)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	log.Println("Database ready")

	taskClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer taskClient.Close()

	r := router.New(database, enqueueFeedbackWebhook(taskClient))

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: r,
	}

	go func() {
		log.Printf("Collector listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()

	log.Printf("Graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	log.Println("Server exited")
}

// enqueueFeedbackWebhook hands each accepted feedback event to the worker.
// Enqueue failures are logged, not surfaced: the event is already stored and
// ingestion must stay up when redis is not.
func enqueueFeedbackWebhook(client *asynq.Client) collector.FeedbackNotifier {
	return func(project *collector.Project, sessionID string, ev collector.IngestEvent) {
		task, err := tasks.NewFeedbackWebhookTask(tasks.FeedbackWebhookPayload{
			ProjectID:  project.ID,
			WebhookURL: project.WebhookURL,
			SessionID:  sessionID,
			Feedback:   ev.Data,
			EmittedAt:  ev.Timestamp,
		})
		if err != nil {
			log.Printf("[COLLECTOR] build webhook task: %v", err)
			return
		}

		if _, err := client.Enqueue(task,
			asynq.Queue(tasks.GetQueueForTask(tasks.TypeFeedbackWebhook)),
			asynq.MaxRetry(5),
		); err != nil {
			log.Printf("[COLLECTOR] enqueue webhook task: %v", err)
		}
	}
}
