package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRouter(t *testing.T, db *gorm.DB, notify FeedbackNotifier) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router.Group("/api"), db, notify)
	return router
}

func postJSON(router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngest_AcceptedBatchReturns204Empty(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	p := testProject(t, store, nil)
	router := setupRouter(t, db, nil)

	w := postJSON(router, "/api/events", feedbackBatch(p.PublicKey, 2), nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())

	_, total, err := store.ListEvents(context.Background(), p.ID, EventFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestIngest_Rejections(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	enabled := testProject(t, store, nil)
	disabled := testProject(t, store, func(p *Project) {
		p.Name = "dormant"
		p.Enabled = false
	})
	fenced := testProject(t, store, func(p *Project) {
		p.Name = "fenced"
		p.AllowedOrigins = OriginList{"https://shop.example"}
	})
	router := setupRouter(t, db, nil)

	tests := []struct {
		name    string
		batch   *IngestBatch
		headers map[string]string
		code    int
	}{
		{"unknown key", feedbackBatch("uxl_bogus", 1), nil, http.StatusUnauthorized},
		{"missing key", feedbackBatch("", 1), nil, http.StatusBadRequest},
		{"disabled project", feedbackBatch(disabled.PublicKey, 1), nil, http.StatusForbidden},
		{"empty batch", &IngestBatch{SessionID: "s", ProjectID: enabled.PublicKey}, nil, http.StatusBadRequest},
		{"oversized batch", feedbackBatch(enabled.PublicKey, MaxBatchEvents+1), nil, http.StatusRequestEntityTooLarge},
		{"origin not allowed", feedbackBatch(fenced.PublicKey, 1),
			map[string]string{"Origin": "https://evil.example"}, http.StatusForbidden},
		{"origin allowed", feedbackBatch(fenced.PublicKey, 1),
			map[string]string{"Origin": "https://shop.example"}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/api/events", tt.batch, tt.headers)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestIngest_DisallowedEventType(t *testing.T) {
	db := setupTestDB(t)
	p := testProject(t, NewStore(db), nil)
	router := setupRouter(t, db, nil)

	w := postJSON(router, "/api/events", &IngestBatch{
		SessionID: "s",
		ProjectID: p.PublicKey,
		Events:    []IngestEvent{{Type: "click_stream", Data: map[string]interface{}{}}},
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_FeedbackTriggersNotifier(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	hooked := testProject(t, store, func(p *Project) {
		p.WebhookURL = "https://hooks.example/uxlens"
	})
	plain := testProject(t, store, func(p *Project) { p.Name = "plain" })

	var notified []string
	router := setupRouter(t, db, func(project *Project, sessionID string, ev IngestEvent) {
		notified = append(notified, project.Name+"/"+sessionID)
	})

	// Feedback on a webhook project notifies; issues and no-webhook projects do not.
	w := postJSON(router, "/api/events", feedbackBatch(hooked.PublicKey, 1), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = postJSON(router, "/api/events", &IngestBatch{
		SessionID: "s", ProjectID: hooked.PublicKey,
		Events: []IngestEvent{{Type: string(EventIssue), Data: map[string]interface{}{}}},
	}, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = postJSON(router, "/api/events", feedbackBatch(plain.PublicKey, 1), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, []string{"shop/sess-1"}, notified)
}

func TestProjects_CRUD(t *testing.T) {
	db := setupTestDB(t)
	router := setupRouter(t, db, nil)

	w := postJSON(router, "/api/projects", map[string]interface{}{"name": "shop"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.PublicKey)
	assert.True(t, created.Enabled)

	w = postJSON(router, "/api/projects", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed ProjectListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.EqualValues(t, 1, listed.Total)

	patch, _ := json.Marshal(map[string]interface{}{"enabled": false})
	req = httptest.NewRequest(http.MethodPatch, "/api/projects/"+created.ID.String(), bytes.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.False(t, updated.Enabled)

	req = httptest.NewRequest(http.MethodDelete, "/api/projects/"+created.ID.String(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/projects/"+created.ID.String(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_ListFiltersOverHTTP(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	p := testProject(t, store, nil)
	router := setupRouter(t, db, nil)

	require.Equal(t, http.StatusNoContent,
		postJSON(router, "/api/events", feedbackBatch(p.PublicKey, 3), nil).Code)

	req := httptest.NewRequest(http.MethodGet,
		"/api/events?project_id="+p.ID.String()+"&issue_type=rage_click&limit=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EventListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 3, resp.Total)
	assert.Len(t, resp.Events, 2)

	// project_id is mandatory on reads.
	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
