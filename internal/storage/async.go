package storage

import (
	"context"
	"sync"
	"time"

	"github.com/danyal-tariq/MeetUpSync/internal/relay/protocol"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/registry"

	"go.uber.org/zap"
)

const saveTimeout = 5 * time.Second

// AsyncWriter decouples the relay's hot path from the database: Record
// enqueues and returns immediately, a single background goroutine does the
// writes. When the queue is full the copy is dropped and logged; delivery
// to peers has already happened and is never affected.
type AsyncWriter struct {
	logger *zap.Logger
	db     Database

	mu     sync.Mutex
	closed bool
	queue  chan *Message
	done   chan struct{}
}

// NewAsyncWriter starts the write loop. queueSize zero selects 256.
func NewAsyncWriter(logger *zap.Logger, db Database, queueSize int) *AsyncWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &AsyncWriter{
		logger: logger.Named("storage.async"),
		db:     db,
		queue:  make(chan *Message, queueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Record implements the router's message sink. It never blocks. Copies
// arriving after Close are dropped; read loops on hijacked WebSockets can
// still be routing while the server shuts down.
func (w *AsyncWriter) Record(env *protocol.Envelope, sender *registry.Meta) {
	msg := &Message{
		SenderID:  env.SenderID,
		TargetID:  env.TargetID,
		Room:      env.Room,
		Payload:   string(env.Data),
		Timestamp: time.Now(),
	}
	if sender != nil {
		msg.SenderUser = sender.UserID
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Debug("storage writer closed, dropping message copy",
			zap.String("sender", msg.SenderID))
		return
	}
	select {
	case w.queue <- msg:
	default:
		w.logger.Warn("storage queue full, dropping message copy",
			zap.String("sender", msg.SenderID))
	}
}

// Close stops accepting new copies and drains what is already queued.
func (w *AsyncWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for msg := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := w.db.SaveMessage(ctx, msg); err != nil {
			w.logger.Error("failed to save message",
				zap.String("sender", msg.SenderID),
				zap.Error(err))
		}
		cancel()
	}
}
