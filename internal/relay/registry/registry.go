// Package registry is the single source of truth for "who is connected".
//
// Every live transport connection is represented by exactly one Conn held
// in a Store. All other components (router, monitor, room layer, gateway)
// operate through the Store contract and never reach into its internals.
package registry

import (
	"context"
	"errors"
	"time"
)

// Queue events understood by a connection's transport writer.
const (
	// EventEnvelope carries an encoded protocol envelope.
	EventEnvelope = "envelope"
	// EventPing asks the writer to emit a transport-level liveness probe.
	EventPing = "ping"
)

// Message is one unit queued towards a connection's transport writer.
type Message struct {
	Event string // EventEnvelope or EventPing
	Data  []byte // encoded envelope; empty for pings
}

// Meta holds immutable metadata about a connection. UserID and Username are
// set only in the authenticated-presence configuration; the anonymous relay
// leaves them empty. One registry serves both.
type Meta struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Conn is the handle to a live connection: the capability to queue bytes to
// it, probe it, or force it closed. Exclusively owned by its registry entry.
type Conn interface {
	// Meta returns metadata associated with the connection.
	Meta() *Meta

	// EventQueue returns a read-only channel drained by the transport writer.
	EventQueue() <-chan *Message

	// Send queues a message towards the transport. It never blocks; a full
	// queue or a closed connection returns an error and the message is
	// dropped (broadcast delivery is best-effort).
	Send(ctx context.Context, msg *Message) error

	// Alive reports the liveness flag maintained by the heartbeat protocol.
	Alive() bool

	// SetAlive toggles the liveness flag. Only the monitor (false, each
	// round) and the pong handler (true) call this.
	SetAlive(alive bool)

	// Close terminates the connection. Safe to call from any component at
	// any time; every call after the first is a no-op.
	Close(ctx context.Context) error
}

var (
	// ErrNotFound is returned when a connection id is unknown or removed.
	ErrNotFound = errors.New("connection not found")

	// ErrDuplicateID signals a registry invariant violation. With UUIDv4
	// identifiers it indicates a programming error, not a normal condition.
	ErrDuplicateID = errors.New("duplicate connection identifier")

	// ErrQueueFull is returned by Send when the outbound queue is saturated.
	ErrQueueFull = errors.New("send queue full")

	// ErrClosed is returned by Send after the connection was closed.
	ErrClosed = errors.New("connection closed")
)

// Store manages the lifecycle and lookup of live connections.
//
// Implementations serialize Register/Get/Unregister with respect to each
// other; iteration never observes a half-inserted or half-removed entry.
type Store interface {
	// Register creates and stores a new connection for meta.ID.
	Register(ctx context.Context, meta *Meta) (Conn, error)

	// Get retrieves a live connection by id.
	Get(ctx context.Context, id string) (Conn, error)

	// Unregister removes a connection by id and closes it. Removing an
	// already-removed id returns ErrNotFound, which callers treat as a
	// no-op: removal is idempotent.
	Unregister(ctx context.Context, id string) error

	// List returns all currently live connections.
	List(ctx context.Context) ([]Conn, error)

	// IDs returns a snapshot of current ids. The snapshot is not kept
	// consistent with concurrent changes; callers tolerate staleness.
	IDs(ctx context.Context) ([]string, error)

	// ForEachExcept applies fn to every live connection other than
	// excludeID. Iteration order is unspecified.
	ForEachExcept(ctx context.Context, excludeID string, fn func(Conn))
}
