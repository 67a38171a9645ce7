package database_service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// record is the gorm model behind the sqlite driver.
type record struct {
	Name      string `gorm:"primaryKey"`
	Payload   []byte `gorm:"not null"`
	UpdatedBy string
	UpdatedAt time.Time
}

func (record) TableName() string { return "bot_records" }

// SQLite keeps records in <dataDir>/entrybot.db.
type SQLite struct {
	db *gorm.DB
}

func OpenSQLite(ctx context.Context, dataDir string) (*SQLite, error) {
	if dataDir == "" {
		return nil, errors.New("data dir required for sqlite driver")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(filepath.Join(dataDir, "entrybot.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Get(ctx context.Context, name string) ([]byte, error) {
	var r record
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.Payload, nil
}

func (s *SQLite) Put(ctx context.Context, actor string, name string, payload []byte) error {
	r := record{Name: name, Payload: payload, UpdatedBy: actor, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_by", "updated_at"}),
	}).Create(&r).Error
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
