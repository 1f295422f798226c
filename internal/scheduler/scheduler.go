package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/uxlensHQ/uxlens/internal/collector"
	"github.com/uxlensHQ/uxlens/internal/tasks"
)

const webhookTimeout = 10 * time.Second

type Service struct {
	db       *gorm.DB
	server   *asynq.Server
	client   *asynq.Client
	mux      *asynq.ServeMux
	redisOpt asynq.RedisClientOpt
	httpc    *http.Client
}

func New(db *gorm.DB, redisOpt asynq.RedisClientOpt) *Service {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"default": 10,
				"low":     1,
			},
		},
	)

	client := asynq.NewClient(redisOpt)
	mux := asynq.NewServeMux()

	s := &Service{
		db:       db,
		server:   srv,
		client:   client,
		mux:      mux,
		redisOpt: redisOpt,
		httpc:    &http.Client{Timeout: webhookTimeout},
	}

	mux.HandleFunc(tasks.TypeRetentionCleanup, s.handleRetentionCleanup)
	mux.HandleFunc(tasks.TypeFeedbackWebhook, s.handleFeedbackWebhook)

	return s
}

func (s *Service) Start() error {
	log.Println("[WORKER] Starting worker service...")
	return s.server.Run(s.mux)
}

func (s *Service) Stop() {
	log.Println("[WORKER] Stopping worker service...")
	s.server.Shutdown()
	s.client.Close()
}

// EnqueueRetentionSweep queues one all-projects retention pass. The worker
// binary calls it on a ticker.
func (s *Service) EnqueueRetentionSweep() error {
	task, err := tasks.NewRetentionCleanupTask(tasks.RetentionCleanupPayload{})
	if err != nil {
		return err
	}
	_, err = s.client.Enqueue(task,
		asynq.Queue(tasks.GetQueueForTask(tasks.TypeRetentionCleanup)),
		asynq.MaxRetry(2),
	)
	return err
}

func (s *Service) handleRetentionCleanup(ctx context.Context, t *asynq.Task) error {
	var payload tasks.RetentionCleanupPayload
	if err := payload.Unmarshal(t.Payload()); err != nil {
		return err
	}

	store := collector.NewStore(s.db)

	var projects []collector.Project
	query := s.db.WithContext(ctx)
	if payload.ProjectID != nil {
		query = query.Where("id = ?", *payload.ProjectID)
	}
	if err := query.Find(&projects).Error; err != nil {
		return err
	}

	for _, project := range projects {
		cutoff := time.Now().AddDate(0, 0, -project.RetentionDays)
		n, err := store.DeleteEventsBefore(ctx, project.ID, cutoff)
		if err != nil {
			log.Printf("[WORKER] Retention sweep failed for project %s: %v", project.ID, err)
			continue
		}
		if n > 0 {
			log.Printf("[WORKER] Retention sweep removed %d event(s) for project %s (older than %d days)",
				n, project.ID, project.RetentionDays)
		}
	}

	return nil
}

func (s *Service) handleFeedbackWebhook(ctx context.Context, t *asynq.Task) error {
	var payload tasks.FeedbackWebhookPayload
	if err := payload.Unmarshal(t.Payload()); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]interface{}{
		"projectId": payload.ProjectID,
		"sessionId": payload.SessionID,
		"emittedAt": payload.EmittedAt,
		"feedback":  payload.Feedback,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "uxlens-webhook/1.0")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Returning an error hands the task back to asynq for retry.
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	log.Printf("[WORKER] Delivered feedback webhook for project %s session %s",
		payload.ProjectID, payload.SessionID)
	return nil
}
