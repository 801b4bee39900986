// Package storage is the persistence boundary for relayed chat messages.
// The relay hands copies across this boundary and never blocks on it;
// durable chat history is this package's concern, routing is not.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/danyal-tariq/MeetUpSync/internal/common/config"
)

// Message is one relayed chat envelope as stored.
type Message struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   string    `gorm:"index" json:"senderId"`
	SenderUser string    `json:"senderUser,omitempty"`
	TargetID   string    `json:"targetId,omitempty"`
	Room       string    `gorm:"index" json:"room,omitempty"`
	Payload    string    `json:"payload"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

// Database defines the methods for message persistence.
type Database interface {
	// Close closes the database connection.
	Close() error

	// SaveMessage saves a message to the database.
	SaveMessage(ctx context.Context, message *Message) error

	// GetMessages gets messages for a specific room, oldest first.
	GetMessages(ctx context.Context, room string) ([]*Message, error)

	// GetMessagesWithPagination gets messages for a specific room with pagination.
	GetMessagesWithPagination(ctx context.Context, room string, page, pageSize int) ([]*Message, error)
}

// NewDatabase creates a new database based on configuration
func NewDatabase(cfg *config.StorageConfig) (Database, error) {
	switch cfg.Type {
	case "none", "":
		return NewNoop(), nil
	case "postgres":
		return NewPostgres(cfg)
	case "sqlite":
		return NewSQLite(cfg)
	case "mysql":
		return NewMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
