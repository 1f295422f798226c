package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/uxlensHQ/uxlens/internal/collector"
	"github.com/uxlensHQ/uxlens/internal/tasks"
)

func setupTestService(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&collector.Project{}, &collector.EventRecord{})
	require.NoError(t, err)

	service := New(db, asynq.RedisClientOpt{Addr: "localhost:6379"})
	return service, db
}

func seedEvents(t *testing.T, db *gorm.DB, project *collector.Project, age time.Duration, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		record := collector.EventRecord{
			ProjectID:  project.ID,
			SessionID:  "sess-1",
			Type:       collector.EventFeedback,
			Data:       []byte(`{}`),
			ReceivedAt: time.Now().Add(-age),
		}
		require.NoError(t, db.Create(&record).Error)
	}
}

func TestHandleRetentionCleanup(t *testing.T) {
	service, db := setupTestService(t)
	store := collector.NewStore(db)
	ctx := context.Background()

	shortLived := &collector.Project{Name: "short", RetentionDays: 7, Enabled: true}
	longLived := &collector.Project{Name: "long", RetentionDays: 365, Enabled: true}
	require.NoError(t, store.CreateProject(ctx, shortLived))
	require.NoError(t, store.CreateProject(ctx, longLived))

	// 30-day-old events survive a 365-day window but not a 7-day one.
	seedEvents(t, db, shortLived, 30*24*time.Hour, 3)
	seedEvents(t, db, shortLived, time.Hour, 1)
	seedEvents(t, db, longLived, 30*24*time.Hour, 2)

	task, err := tasks.NewRetentionCleanupTask(tasks.RetentionCleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, service.handleRetentionCleanup(ctx, task))

	_, shortTotal, err := store.ListEvents(ctx, shortLived.ID, collector.EventFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, shortTotal)

	_, longTotal, err := store.ListEvents(ctx, longLived.ID, collector.EventFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, longTotal)
}

func TestHandleRetentionCleanup_SingleProject(t *testing.T) {
	service, db := setupTestService(t)
	store := collector.NewStore(db)
	ctx := context.Background()

	target := &collector.Project{Name: "target", RetentionDays: 7, Enabled: true}
	other := &collector.Project{Name: "other", RetentionDays: 7, Enabled: true}
	require.NoError(t, store.CreateProject(ctx, target))
	require.NoError(t, store.CreateProject(ctx, other))
	seedEvents(t, db, target, 30*24*time.Hour, 2)
	seedEvents(t, db, other, 30*24*time.Hour, 2)

	task, err := tasks.NewRetentionCleanupTask(tasks.RetentionCleanupPayload{ProjectID: &target.ID})
	require.NoError(t, err)
	require.NoError(t, service.handleRetentionCleanup(ctx, task))

	_, targetTotal, _ := store.ListEvents(ctx, target.ID, collector.EventFilter{})
	_, otherTotal, _ := store.ListEvents(ctx, other.ID, collector.EventFilter{})
	assert.EqualValues(t, 0, targetTotal)
	assert.EqualValues(t, 2, otherTotal)
}

func TestHandleFeedbackWebhook(t *testing.T) {
	service, _ := setupTestService(t)

	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	task, err := tasks.NewFeedbackWebhookTask(tasks.FeedbackWebhookPayload{
		ProjectID:  uuid.New(),
		WebhookURL: srv.URL,
		SessionID:  "sess-1",
		Feedback:   map[string]interface{}{"issueType": "rage_click"},
		EmittedAt:  time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	require.NoError(t, service.handleFeedbackWebhook(context.Background(), task))
	assert.EqualValues(t, 1, delivered.Load())
}

func TestHandleFeedbackWebhook_ServerErrorRetries(t *testing.T) {
	service, _ := setupTestService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	task, err := tasks.NewFeedbackWebhookTask(tasks.FeedbackWebhookPayload{
		ProjectID:  uuid.New(),
		WebhookURL: srv.URL,
	})
	require.NoError(t, err)

	// A non-2xx answer must surface as an error so asynq retries the task.
	err = service.handleFeedbackWebhook(context.Background(), task)
	assert.Error(t, err)
}
