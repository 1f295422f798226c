package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// GetDB returns the underlying database connection for advanced operations
func (s *Store) GetDB() *gorm.DB {
	return s.db
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Project{},
		&EventRecord{},
	)
}

func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProjectByKey resolves a public key to its project. Ingestion and the
// read API both authenticate through this lookup.
func (s *Store) GetProjectByKey(ctx context.Context, key string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).First(&p, "public_key = ?", key).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, int64, error) {
	var projects []Project
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&projects).Error
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Project{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

func (s *Store) UpdateProject(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return s.db.WithContext(ctx).Model(&Project{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&Project{}, "id = ?", id).Error
}

// InsertBatch persists one accepted batch in a single transaction, lifting
// the filterable issue fields out of each payload.
func (s *Store) InsertBatch(ctx context.Context, project *Project, batch *IngestBatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ev := range batch.Events {
			data, err := json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("marshal event data: %w", err)
			}

			record := EventRecord{
				ProjectID: project.ID,
				SessionID: batch.SessionID,
				Type:      EventRecordType(ev.Type),
				Data:      data,
				EmittedAt: time.UnixMilli(ev.Timestamp),
			}
			if v, ok := ev.Data["pageUrl"].(string); ok {
				record.PageURL = v
			}
			if v, ok := ev.Data["issueType"].(string); ok {
				record.IssueType = v
			}
			if v, ok := ev.Data["issueSelector"].(string); ok {
				record.IssueSelector = v
			}

			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// EventFilter narrows ListEvents. Zero values mean "no constraint".
type EventFilter struct {
	Type      EventRecordType
	IssueType string
	SessionID string
	Start     *time.Time
	End       *time.Time
	Offset    int
	Limit     int
}

func (s *Store) ListEvents(ctx context.Context, projectID uuid.UUID, filter EventFilter) ([]EventRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&EventRecord{}).Where("project_id = ?", projectID)

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.IssueType != "" {
		query = query.Where("issue_type = ?", filter.IssueType)
	}
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.Start != nil {
		query = query.Where("received_at >= ?", *filter.Start)
	}
	if filter.End != nil {
		query = query.Where("received_at <= ?", *filter.End)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}

	var events []EventRecord
	err := query.Order("received_at DESC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&events).Error

	return events, total, err
}

// DeleteEventsBefore drops a project's events older than cutoff. The worker's
// retention task drives it.
func (s *Store) DeleteEventsBefore(ctx context.Context, projectID uuid.UUID, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("project_id = ? AND received_at < ?", projectID, cutoff).
		Delete(&EventRecord{})

	return result.RowsAffected, result.Error
}
