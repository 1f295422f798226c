package collector

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(&Project{}, &EventRecord{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func testProject(t *testing.T, store *Store, mutate func(*Project)) *Project {
	t.Helper()
	p := &Project{Name: "shop", Enabled: true}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, store.CreateProject(context.Background(), p))
	return p
}

func feedbackBatch(key string, n int) *IngestBatch {
	batch := &IngestBatch{SessionID: "sess-1", ProjectID: key}
	for i := 0; i < n; i++ {
		batch.Events = append(batch.Events, IngestEvent{
			Type: string(EventFeedback),
			Data: map[string]interface{}{
				"issueType":     "rage_click",
				"issueSelector": "#buy",
				"pageUrl":       "https://shop.example/checkout",
				"message":       "button does nothing",
			},
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return batch
}

func TestStore_CreateProjectDefaults(t *testing.T) {
	store := NewStore(setupTestDB(t))
	p := testProject(t, store, nil)

	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.NotEmpty(t, p.PublicKey)
	assert.Contains(t, p.PublicKey, "uxl_")
	assert.Equal(t, DefaultRetentionDays, p.RetentionDays)
}

func TestStore_GetProjectByKey(t *testing.T) {
	store := NewStore(setupTestDB(t))
	p := testProject(t, store, nil)

	found, err := store.GetProjectByKey(context.Background(), p.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = store.GetProjectByKey(context.Background(), "uxl_nope")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestStore_InsertBatchLiftsIssueFields(t *testing.T) {
	store := NewStore(setupTestDB(t))
	p := testProject(t, store, nil)

	require.NoError(t, store.InsertBatch(context.Background(), p, feedbackBatch(p.PublicKey, 2)))

	events, total, err := store.ListEvents(context.Background(), p.ID, EventFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, EventFeedback, events[0].Type)
	assert.Equal(t, "rage_click", events[0].IssueType)
	assert.Equal(t, "#buy", events[0].IssueSelector)
	assert.Equal(t, "https://shop.example/checkout", events[0].PageURL)
	assert.Equal(t, "sess-1", events[0].SessionID)
}

func TestStore_ListEventsFilters(t *testing.T) {
	store := NewStore(setupTestDB(t))
	p := testProject(t, store, nil)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, p, feedbackBatch(p.PublicKey, 3)))
	require.NoError(t, store.InsertBatch(ctx, p, &IngestBatch{
		SessionID: "sess-2",
		ProjectID: p.PublicKey,
		Events: []IngestEvent{{
			Type: string(EventIssue),
			Data: map[string]interface{}{"issueType": "dead_link"},
		}},
	}))

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"no filter", EventFilter{}, 4},
		{"by type", EventFilter{Type: EventFeedback}, 3},
		{"by issue type", EventFilter{IssueType: "dead_link"}, 1},
		{"by session", EventFilter{SessionID: "sess-2"}, 1},
		{"paged", EventFilter{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, _, err := store.ListEvents(ctx, p.ID, tt.filter)
			require.NoError(t, err)
			assert.Len(t, events, tt.want)
		})
	}
}

func TestStore_DeleteEventsBefore(t *testing.T) {
	store := NewStore(setupTestDB(t))
	p := testProject(t, store, nil)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, p, feedbackBatch(p.PublicKey, 3)))

	// Nothing is old enough yet.
	n, err := store.DeleteEventsBefore(ctx, p.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = store.DeleteEventsBefore(ctx, p.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, total, err := store.ListEvents(ctx, p.ID, EventFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestStore_UpdateProject(t *testing.T) {
	store := NewStore(setupTestDB(t))
	p := testProject(t, store, nil)
	ctx := context.Background()

	require.NoError(t, store.UpdateProject(ctx, p.ID, map[string]interface{}{
		"enabled":        false,
		"retention_days": 7,
	}))

	updated, err := store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, 7, updated.RetentionDays)
}

func TestOriginList_Allows(t *testing.T) {
	tests := []struct {
		name    string
		origins OriginList
		origin  string
		want    bool
	}{
		{"empty list admits all", nil, "https://anything.example", true},
		{"listed origin", OriginList{"https://shop.example"}, "https://shop.example", true},
		{"unlisted origin", OriginList{"https://shop.example"}, "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.origins.Allows(tt.origin))
		})
	}
}
