package completion

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/repository"
	"github.com/turtacn/taskgate/internal/domain/service"
)

var (
	_ repository.CompletionRepository = (*GormStore)(nil)
	_ service.CompletionSink          = (*GormStore)(nil)
)

// completionRow is the persisted form of a completion record.
type completionRow struct {
	ID          uint      `gorm:"primaryKey"`
	TaskID      string    `gorm:"size:64;uniqueIndex"`
	UserID      string    `gorm:"size:128;index:idx_completion_user_time,priority:1"`
	EnqueuedAt  time.Time
	CompletedAt time.Time `gorm:"index:idx_completion_user_time,priority:2"`
	CreatedAt   time.Time
}

func (completionRow) TableName() string { return "task_completions" }

// OpenDatabase opens the completion database for the configured driver and applies the schema.
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife)
	}
	return db, nil
}

// GormStore keeps completion records in a relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates the store and migrates its table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&completionRow{}); err != nil {
		return nil, fmt.Errorf("migrate task_completions: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Save inserts the record. A record whose TaskID is already stored is ignored.
func (s *GormStore) Save(ctx context.Context, record models.CompletionRecord) error {
	row := completionRow{
		TaskID:      record.TaskID,
		UserID:      record.UserID,
		EnqueuedAt:  record.EnqueuedAt.UTC(),
		CompletedAt: record.CompletedAt.UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "task_id"}}, DoNothing: true}).
		Create(&row).Error
}

// ListByUser returns the newest records first.
func (s *GormStore) ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]models.CompletionRecord, error) {
	var rows []completionRow
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("completed_at >= ?", since.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("completed_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.CompletionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.CompletionRecord{
			UserID:      r.UserID,
			TaskID:      r.TaskID,
			EnqueuedAt:  r.EnqueuedAt,
			CompletedAt: r.CompletedAt,
		})
	}
	return out, nil
}

// Record lets the store act as a direct completion sink.
func (s *GormStore) Record(ctx context.Context, record models.CompletionRecord) error {
	return s.Save(ctx, record)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
