package registry

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore_RegisterGetListUnregister(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), 8)
	meta := &Meta{ID: "cid"}

	// register
	conn, err := s.Register(context.Background(), meta)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.True(t, conn.Alive())

	// duplicate register is a programming-error signal
	_, err = s.Register(context.Background(), meta)
	assert.ErrorIs(t, err, ErrDuplicateID)

	// get
	got, err := s.Get(context.Background(), "cid")
	require.NoError(t, err)
	assert.Equal(t, "cid", got.Meta().ID)

	// list
	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// unregister
	assert.NoError(t, s.Unregister(context.Background(), "cid"))
	_, err = s.Get(context.Background(), "cid")
	assert.ErrorIs(t, err, ErrNotFound)

	// second unregister is a no-op
	assert.ErrorIs(t, s.Unregister(context.Background(), "cid"), ErrNotFound)
}

func TestMemoryStore_IDsSnapshot(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), 8)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Register(context.Background(), &Meta{ID: id})
		require.NoError(t, err)
	}

	ids, err := s.IDs(context.Background())
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMemoryStore_ForEachExceptExcludes(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), 8)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Register(context.Background(), &Meta{ID: id})
		require.NoError(t, err)
	}

	var visited []string
	s.ForEachExcept(context.Background(), "b", func(c Conn) {
		visited = append(visited, c.Meta().ID)
	})
	sort.Strings(visited)
	assert.Equal(t, []string{"a", "c"}, visited)
}

func TestMemoryConn_SendQueueFull(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), 2)
	conn, err := s.Register(context.Background(), &Meta{ID: "x"})
	require.NoError(t, err)

	assert.NoError(t, conn.Send(context.Background(), &Message{Event: EventEnvelope}))
	assert.NoError(t, conn.Send(context.Background(), &Message{Event: EventEnvelope}))
	// queue is full now; delivery is best-effort
	assert.ErrorIs(t, conn.Send(context.Background(), &Message{Event: EventEnvelope}), ErrQueueFull)
}

func TestMemoryConn_CloseIdempotentAndSendAfterClose(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), 2)
	conn, err := s.Register(context.Background(), &Meta{ID: "x"})
	require.NoError(t, err)

	// peer-initiated close and monitor-forced close may race on the same id
	assert.NoError(t, conn.Close(context.Background()))
	assert.NoError(t, conn.Close(context.Background()))

	assert.ErrorIs(t, conn.Send(context.Background(), &Message{Event: EventPing}), ErrClosed)

	// queue is closed so the writer drains and exits
	_, open := <-conn.EventQueue()
	assert.False(t, open)
}

func TestMemoryConn_AliveFlag(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), 2)
	conn, err := s.Register(context.Background(), &Meta{ID: "x"})
	require.NoError(t, err)

	conn.SetAlive(false)
	assert.False(t, conn.Alive())
	conn.SetAlive(true)
	assert.True(t, conn.Alive())
}

func TestMemoryStore_ConcurrentRegisterUnregister(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), 8)

	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.Register(context.Background(), &Meta{ID: id})
			assert.NoError(t, err)
			assert.NoError(t, s.Unregister(context.Background(), id))
		}(id)
	}
	wg.Wait()

	remaining, err := s.IDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
