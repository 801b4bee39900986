package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danyal-tariq/MeetUpSync/internal/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) Database {
	t.Helper()
	db, err := NewSQLite(&config.StorageConfig{
		Type:   "sqlite",
		DBName: filepath.Join(t.TempDir(), "relay.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteSaveAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, text := range []string{`"first"`, `"second"`, `"third"`} {
		require.NoError(t, db.SaveMessage(ctx, &Message{
			SenderID:  "A",
			Room:      "general",
			Payload:   text,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, db.SaveMessage(ctx, &Message{
		SenderID:  "B",
		Room:      "other",
		Payload:   `"elsewhere"`,
		Timestamp: base,
	}))

	msgs, err := db.GetMessages(ctx, "general")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, `"first"`, msgs[0].Payload)
	assert.Equal(t, `"third"`, msgs[2].Payload)
}

func TestSQLitePagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, db.SaveMessage(ctx, &Message{
			SenderID:  "A",
			Room:      "r",
			Payload:   `"m"`,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page1, err := db.GetMessagesWithPagination(ctx, "r", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page3, err := db.GetMessagesWithPagination(ctx, "r", 3, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestNewDatabaseFactory(t *testing.T) {
	db, err := NewDatabase(&config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	assert.IsType(t, &Noop{}, db)

	_, err = NewDatabase(&config.StorageConfig{Type: "cassandra"})
	assert.Error(t, err)
}
