package collector

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FeedbackNotifier is called once per accepted ux_feedback event when the
// project has a webhook URL. The collector binary wires the asynq enqueuer
// in here; tests pass a recorder.
type FeedbackNotifier func(project *Project, sessionID string, record IngestEvent)

func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB, notify FeedbackNotifier) {
	store := NewStore(db)

	rg.POST("/events", ingestEvents(store, notify))
	rg.GET("/events", listEvents(store))

	rg.POST("/projects", createProject(store))
	rg.GET("/projects", listProjects(store))
	rg.GET("/projects/:id", getProject(store))
	rg.PATCH("/projects/:id", updateProject(store))
	rg.DELETE("/projects/:id", deleteProject(store))
}

// ingestEvents accepts one batch from the agent pipeline. The project key in
// the body is the only credential; accepted batches get an empty 204 so the
// page-side keepalive path never has to parse a response.
func ingestEvents(store *Store, notify FeedbackNotifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var batch IngestBatch
		if err := c.ShouldBindJSON(&batch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if batch.ProjectID == "" || batch.SessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "projectId and sessionId are required"})
			return
		}
		if len(batch.Events) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
			return
		}
		if len(batch.Events) > MaxBatchEvents {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch exceeds event limit"})
			return
		}
		for _, ev := range batch.Events {
			if !AcceptedEventTypes[EventRecordType(ev.Type)] {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported event type: " + ev.Type})
				return
			}
		}

		project, err := store.GetProjectByKey(c.Request.Context(), batch.ProjectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown project key"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !project.Enabled {
			c.JSON(http.StatusForbidden, gin.H{"error": "project disabled"})
			return
		}
		if origin := c.GetHeader("Origin"); origin != "" && !project.AllowedOrigins.Allows(origin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}

		if err := store.InsertBatch(c.Request.Context(), project, &batch); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Printf("[COLLECTOR] accepted %d event(s) for project %s session %s",
			len(batch.Events), project.ID, batch.SessionID)

		if notify != nil && project.WebhookURL != "" {
			for _, ev := range batch.Events {
				if EventRecordType(ev.Type) == EventFeedback {
					notify(project, batch.SessionID, ev)
				}
			}
		}

		c.Status(http.StatusNoContent)
	}
}

// listEvents pages through a project's stored events with optional type,
// issue-type, session and time filters.
func listEvents(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, err := uuid.Parse(c.Query("project_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
			return
		}

		filter := EventFilter{
			Type:      EventRecordType(c.Query("type")),
			IssueType: c.Query("issue_type"),
			SessionID: c.Query("session_id"),
		}
		if v := c.Query("start_time"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Start = &t
			}
		}
		if v := c.Query("end_time"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.End = &t
			}
		}
		filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
		filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultPageLimit)))

		events, total, err := store.ListEvents(c.Request.Context(), projectID, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if events == nil {
			events = []EventRecord{}
		}

		c.JSON(http.StatusOK, EventListResponse{
			Events: events,
			Total:  total,
			Offset: filter.Offset,
			Limit:  filter.Limit,
		})
	}
}

func createProject(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Project
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		req.Enabled = true
		if err := store.CreateProject(c.Request.Context(), &req); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, req)
	}
}

func listProjects(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, total, err := store.ListProjects(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if projects == nil {
			projects = []Project{}
		}
		c.JSON(http.StatusOK, ProjectListResponse{Projects: projects, Total: total})
	}
}

func getProject(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project ID"})
			return
		}

		project, err := store.GetProject(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

func updateProject(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project ID"})
			return
		}

		var req struct {
			Name           *string    `json:"name"`
			AllowedOrigins OriginList `json:"allowed_origins"`
			WebhookURL     *string    `json:"webhook_url"`
			RetentionDays  *int       `json:"retention_days"`
			Enabled        *bool      `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		updates := map[string]interface{}{}
		if req.Name != nil {
			updates["name"] = *req.Name
		}
		if req.AllowedOrigins != nil {
			updates["allowed_origins"] = req.AllowedOrigins
		}
		if req.WebhookURL != nil {
			updates["webhook_url"] = *req.WebhookURL
		}
		if req.RetentionDays != nil && *req.RetentionDays > 0 {
			updates["retention_days"] = *req.RetentionDays
		}
		if req.Enabled != nil {
			updates["enabled"] = *req.Enabled
		}
		if len(updates) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
			return
		}

		if err := store.UpdateProject(c.Request.Context(), id, updates); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		project, err := store.GetProject(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

func deleteProject(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project ID"})
			return
		}

		if err := store.DeleteProject(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "project deleted"})
	}
}
