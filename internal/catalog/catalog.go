// Package catalog stores acquisition sessions and finalized recording
// segments in SQLite or MySQL through gorm. It is fed from the event bus.
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/events"
	"github.com/tphakala/biosig-go/internal/logger"
)

const componentCatalog = "catalog"

// DefaultSlowQueryThreshold marks queries logged as slow
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// Store is the catalog database
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// GetLogger returns the catalog logger
func GetLogger() logger.Logger {
	return logger.Global().Module("catalog")
}

// Open connects to the configured database and migrates the schema
func Open(settings *conf.CatalogSettings, log logger.Logger) (*Store, error) {
	if log == nil {
		log = GetLogger()
	}
	gormConfig := &gorm.Config{Logger: logger.NewGormLoggerAdapter(log, DefaultSlowQueryThreshold)}

	var (
		db  *gorm.DB
		err error
	)
	switch settings.Type {
	case "mysql":
		db, err = gorm.Open(mysql.Open(settings.DSN), gormConfig)
	case "sqlite", "":
		if dir := filepath.Dir(settings.Path); dir != "" {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, dbError(mkErr, "create_directory")
			}
		}
		db, err = gorm.Open(sqlite.Open(settings.Path), gormConfig)
		if err == nil {
			err = db.Exec("PRAGMA journal_mode=WAL").Error
		}
	default:
		return nil, errors.Newf("unsupported catalog type %q", settings.Type).
			Component(componentCatalog).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, dbError(err, "open")
	}

	if err := db.AutoMigrate(&Session{}, &Segment{}); err != nil {
		return nil, dbError(err, "migrate")
	}

	log.Info("catalog opened", logger.String("type", settings.Type))
	return &Store{db: db, log: log}, nil
}

func dbError(err error, operation string) error {
	return errors.New(err).
		Component(componentCatalog).
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

func sessionRow(ev events.SessionEvent) Session {
	return Session{
		MeasurementID:   ev.MeasurementID,
		DeviceIDs:       joinList(ev.DeviceIDs),
		Labels:          joinList(ev.Labels),
		Channels:        ev.Channels,
		SampleRate:      ev.SampleRate,
		SamplesPerBlock: ev.SamplesPerBlock,
		StartedAt:       ev.StartedAt,
	}
}

// SessionStarted inserts the session row
func (s *Store) SessionStarted(ctx context.Context, ev events.SessionEvent) error {
	row := sessionRow(ev)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return dbError(err, "insert_session")
	}
	return nil
}

// SessionStopped records the end of a session, inserting it when the start
// was never cataloged
func (s *Store) SessionStopped(ctx context.Context, ev events.SessionEvent) error {
	db := s.db.WithContext(ctx)
	stopped := ev.StoppedAt

	var count int64
	if err := db.Model(&Session{}).Where("measurement_id = ?", ev.MeasurementID).Count(&count).Error; err != nil {
		return dbError(err, "find_session")
	}
	if count == 0 {
		row := sessionRow(ev)
		row.StoppedAt = &stopped
		row.BlocksConsumed = ev.BlocksConsumed
		if err := db.Create(&row).Error; err != nil {
			return dbError(err, "insert_session")
		}
		return nil
	}

	err := db.Model(&Session{}).
		Where("measurement_id = ?", ev.MeasurementID).
		Updates(map[string]any{"stopped_at": stopped, "blocks_consumed": ev.BlocksConsumed}).Error
	if err != nil {
		return dbError(err, "update_session")
	}
	return nil
}

// AddSegment inserts a finalized segment
func (s *Store) AddSegment(ctx context.Context, ev events.SegmentEvent) error {
	row := Segment{
		MeasurementID: ev.MeasurementID,
		Path:          ev.Path,
		Number:        ev.Number,
		Samples:       ev.Samples,
		DurationMs:    ev.Duration.Milliseconds(),
		Next:          ev.Next,
		OpenedAt:      ev.OpenedAt,
		ClosedAt:      ev.ClosedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return dbError(err, "insert_segment")
	}
	return nil
}

// Sessions returns the latest sessions, newest first
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	var rows []Session
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, dbError(err, "list_sessions")
	}
	return rows, nil
}

// RecentSegments returns the latest segments, newest first
func (s *Store) RecentSegments(ctx context.Context, limit int) ([]Segment, error) {
	var rows []Segment
	if err := s.db.WithContext(ctx).Order("closed_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, dbError(err, "list_segments")
	}
	return rows, nil
}

// SessionSegments returns the segments of one measurement in chain order
func (s *Store) SessionSegments(ctx context.Context, measurementID string) ([]Segment, error) {
	var rows []Segment
	err := s.db.WithContext(ctx).
		Where("measurement_id = ?", measurementID).
		Order("number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "session_segments")
	}
	return rows, nil
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}
