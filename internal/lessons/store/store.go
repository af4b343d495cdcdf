// Package store persists finished lessons in the record shape consumed by the rest of the
// product. Postgres is used in deployments; sqlite serves local runs and tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/cache"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

// LessonRow is one finished lesson. Record holds the full outline and cards as JSON.
type LessonRow struct {
	ID        string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	TopicKey  string         `gorm:"type:varchar(512);not null;index" json:"topic_key"`
	Title     string         `gorm:"not null" json:"title"`
	Subject   string         `gorm:"not null" json:"subject"`
	Level     string         `json:"level"`
	Fallbacks int            `gorm:"not null;default:0" json:"fallbacks"`
	Record    datatypes.JSON `gorm:"not null" json:"record"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (LessonRow) TableName() string { return "lesson_record" }

type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open connects using dsn. postgres:// URLs and key=value DSNs go to Postgres; anything else
// is a sqlite path (":memory:" included).
func Open(log *logger.Logger, dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("store dsn required")
	}
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		if log != nil {
			log.Error("Failed to open lesson store", "dialect", dialector.Name(), "error", err)
		}
		return nil, fmt.Errorf("open lesson store: %w", err)
	}
	return db, nil
}

func New(db *gorm.DB, baseLog *logger.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("gorm db required")
	}
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &Store{db: db, log: baseLog.With("repo", "LessonStore")}, nil
}

func (s *Store) AutoMigrate() error {
	s.log.Info("Auto migrating lesson tables...")
	if err := s.db.AutoMigrate(&LessonRow{}); err != nil {
		s.log.Error("Auto migration failed for lesson tables", "error", err)
		return err
	}
	return nil
}

// Save upserts the record by lesson ID.
func (s *Store) Save(ctx context.Context, rec lesson.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("lesson record id required")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode lesson record: %w", err)
	}
	fallbacks := 0
	for _, c := range rec.Cards {
		if c.Fallback {
			fallbacks++
		}
	}
	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	row := &LessonRow{
		ID:        rec.ID,
		TopicKey:  cache.LessonKey(rec.Title, rec.Subject),
		Title:     rec.Title,
		Subject:   rec.Subject,
		Level:     rec.Level,
		Fallbacks: fallbacks,
		Record:    datatypes.JSON(raw),
		CreatedAt: created,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"topic_key", "title", "subject", "level", "fallbacks", "record", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("save lesson %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (lesson.Record, bool, error) {
	var row LessonRow
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&row).Error
	return decodeRow(row, err)
}

// FindByTopic returns the most recent finished lesson for topic/subject. Preference goes to
// lessons with the fewest fallback slides.
func (s *Store) FindByTopic(ctx context.Context, topic, subject string) (lesson.Record, bool, error) {
	var row LessonRow
	err := s.db.WithContext(ctx).
		Where("topic_key = ?", cache.LessonKey(topic, subject)).
		Order("fallbacks ASC").
		Order("updated_at DESC").
		Take(&row).Error
	return decodeRow(row, err)
}

func decodeRow(row LessonRow, err error) (lesson.Record, bool, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return lesson.Record{}, false, nil
	}
	if err != nil {
		return lesson.Record{}, false, err
	}
	var rec lesson.Record
	if err := json.Unmarshal(row.Record, &rec); err != nil {
		return lesson.Record{}, false, fmt.Errorf("decode lesson %s: %w", row.ID, err)
	}
	return rec, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Delete(&LessonRow{}).Error
}
