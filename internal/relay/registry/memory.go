package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// MemoryStore implements Store using in-memory storage
type MemoryStore struct {
	logger    *zap.Logger
	queueSize int
	mu        sync.RWMutex
	conns     map[string]*memoryConn
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory connection store. queueSize bounds
// each connection's outbound queue; zero selects the default of 64.
func NewMemoryStore(logger *zap.Logger, queueSize int) *MemoryStore {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &MemoryStore{
		logger:    logger.Named("registry.memory"),
		queueSize: queueSize,
		conns:     make(map[string]*memoryConn),
	}
}

// Register implements Store.Register
func (s *MemoryStore) Register(_ context.Context, meta *Meta) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conns[meta.ID]; exists {
		return nil, ErrDuplicateID
	}

	conn := &memoryConn{
		meta:  meta,
		queue: make(chan *Message, s.queueSize),
	}
	conn.alive.Store(true)

	s.conns[meta.ID] = conn
	return conn, nil
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, id string) (Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conn, nil
}

// Unregister implements Store.Unregister
func (s *MemoryStore) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	conn, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	if err := conn.Close(ctx); err != nil {
		s.logger.Error("failed to close connection",
			zap.String("id", id),
			zap.Error(err))
	}
	return nil
}

// List implements Store.List
func (s *MemoryStore) List(_ context.Context) ([]Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	return conns, nil
}

// IDs implements Store.IDs
func (s *MemoryStore) IDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	return ids, nil
}

// ForEachExcept implements Store.ForEachExcept. fn runs outside the store
// lock on a snapshot, so a slow queue never stalls registry mutation.
func (s *MemoryStore) ForEachExcept(_ context.Context, excludeID string, fn func(Conn)) {
	s.mu.RLock()
	conns := make([]*memoryConn, 0, len(s.conns))
	for id, conn := range s.conns {
		if id != excludeID {
			conns = append(conns, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		fn(conn)
	}
}

// memoryConn implements Conn backed by a buffered channel drained by the
// gateway's transport writer.
type memoryConn struct {
	meta  *Meta
	alive atomic.Bool

	mu     sync.Mutex
	closed bool
	queue  chan *Message
}

var _ Conn = (*memoryConn)(nil)

func (c *memoryConn) Meta() *Meta { return c.meta }

func (c *memoryConn) EventQueue() <-chan *Message { return c.queue }

func (c *memoryConn) Send(_ context.Context, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *memoryConn) Alive() bool { return c.alive.Load() }

func (c *memoryConn) SetAlive(alive bool) { c.alive.Store(alive) }

// Close closes the queue, which terminates the transport writer. A close
// racing another close (peer-initiated vs monitor-forced) is a no-op.
func (c *memoryConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.queue)
	return nil
}
