package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"prism-board/domain"
)

// boardRecord is the SQL row holding one board document.
type boardRecord struct {
	ProjectID string `gorm:"primaryKey;size:128"`
	BoardName string `gorm:"primaryKey;size:128"`
	Version   int64
	Data      string `gorm:"type:longtext"`
	UpdatedAt time.Time
}

func (boardRecord) TableName() string { return "boards" }

// SQL stores boards in a relational database through gorm.
type SQL struct {
	db *gorm.DB
}

// OpenSQL connects to a sqlite file or a mysql DSN.
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	return db, nil
}

// NewSQL wraps an open gorm connection.
func NewSQL(db *gorm.DB) *SQL {
	return &SQL{db: db}
}

// Close releases the underlying connection pool.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the boards table.
func (s *SQL) Migrate() error {
	if err := s.db.AutoMigrate(&boardRecord{}); err != nil {
		return fmt.Errorf("storage: migrate boards: %w", err)
	}
	return nil
}

// Load reads the board row.
func (s *SQL) Load(ctx context.Context, key domain.BoardKey) (domain.Board, error) {
	var rec boardRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND board_name = ?", key.ProjectID, key.BoardName).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Board{}, &domain.NotFoundError{Key: key}
		}
		return domain.Board{}, err
	}
	return decodeBoard(key, []byte(rec.Data))
}

// Save upserts the board row.
func (s *SQL) Save(ctx context.Context, b domain.Board) error {
	rec, err := newBoardRecord(b)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

// Create inserts a new board row.
func (s *SQL) Create(ctx context.Context, b domain.Board) error {
	rec, err := newBoardRecord(b)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrBoardExists
		}
		return err
	}
	return nil
}

func newBoardRecord(b domain.Board) (boardRecord, error) {
	data, err := encodeBoard(b)
	if err != nil {
		return boardRecord{}, err
	}
	return boardRecord{
		ProjectID: b.ProjectID,
		BoardName: b.BoardName,
		Version:   b.Version,
		Data:      string(data),
		UpdatedAt: b.UpdatedAt,
	}, nil
}
