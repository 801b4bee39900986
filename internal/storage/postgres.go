package storage

import (
	"context"
	"fmt"

	"github.com/danyal-tariq/MeetUpSync/internal/common/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Postgres implements the Database interface using PostgreSQL
type Postgres struct {
	db  *gorm.DB
	cfg *config.StorageConfig
}

// NewPostgres creates a new Postgres instance
func NewPostgres(cfg *config.StorageConfig) (Database, error) {
	db := &Postgres{
		cfg: cfg,
	}

	gormDB, err := gorm.Open(postgres.Open(db.cfg.GetDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := gormDB.AutoMigrate(&Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	db.db = gormDB
	return db, nil
}

// Close closes the database connection
func (db *Postgres) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveMessage saves a message to the database
func (db *Postgres) SaveMessage(ctx context.Context, message *Message) error {
	return db.db.WithContext(ctx).Create(message).Error
}

// GetMessages retrieves all messages for a room
func (db *Postgres) GetMessages(ctx context.Context, room string) ([]*Message, error) {
	var messages []*Message
	err := db.db.WithContext(ctx).
		Where("room = ?", room).
		Order("timestamp asc").
		Find(&messages).Error
	return messages, err
}

// GetMessagesWithPagination retrieves messages for a room with pagination
func (db *Postgres) GetMessagesWithPagination(ctx context.Context, room string, page, pageSize int) ([]*Message, error) {
	var messages []*Message
	offset := (page - 1) * pageSize
	err := db.db.WithContext(ctx).
		Where("room = ?", room).
		Order("timestamp asc").
		Offset(offset).
		Limit(pageSize).
		Find(&messages).Error
	return messages, err
}
