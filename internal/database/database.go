package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store owns the SQLite handle. Everything that needs persistence receives a
// *Store; there is no package-level connection.
type Store struct {
	db *gorm.DB
}

// Open initializes the database at path, creating parent directories as
// needed, and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// WAL mode so terminal activity updates don't block readers.
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Database initialized at %s", path)
	return &Store{db: db}, nil
}

// Ping verifies the underlying connection is alive.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (s *Store) CreateSession(rec *SessionRecord) error {
	return s.db.Create(rec).Error
}

func (s *Store) SaveSession(rec *SessionRecord) error {
	return s.db.Save(rec).Error
}

// GetSession returns gorm.ErrRecordNotFound when no row matches.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	var rec SessionRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListSessions() ([]SessionRecord, error) {
	var recs []SessionRecord
	if err := s.db.Order("created_at desc").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) DeleteSession(id string) error {
	return s.db.Delete(&SessionRecord{}, "id = ?", id).Error
}

func (s *Store) UpdateSessionState(id, state string) error {
	return s.db.Model(&SessionRecord{}).Where("id = ?", id).Update("state", state).Error
}

func (s *Store) UpdateSessionActivity(id string, t time.Time) error {
	return s.db.Model(&SessionRecord{}).Where("id = ?", id).Update("last_activity_at", t).Error
}
