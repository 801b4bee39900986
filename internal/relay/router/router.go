// Package router dispatches inbound envelopes to one target, a room, or
// every other registered connection.
package router

import (
	"context"

	"github.com/danyal-tariq/MeetUpSync/internal/relay/protocol"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/registry"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/room"
	"github.com/danyal-tariq/MeetUpSync/pkg/metrics"

	"go.uber.org/zap"
)

// MessageSink receives a copy of every relayed chat envelope for durable
// storage. Implementations must not block; the relay completes delivery
// regardless of what the sink does with the copy.
type MessageSink interface {
	Record(env *protocol.Envelope, sender *registry.Meta)
}

// Router resolves envelope targets against the registry and room layer.
type Router struct {
	logger  *zap.Logger
	store   registry.Store
	rooms   *room.Manager
	metrics *metrics.Metrics
	sink    MessageSink
}

// New creates a router. metrics and sink may be nil.
func New(logger *zap.Logger, store registry.Store, rooms *room.Manager, m *metrics.Metrics, sink MessageSink) *Router {
	return &Router{
		logger:  logger.Named("router"),
		store:   store,
		rooms:   rooms,
		metrics: m,
		sink:    sink,
	}
}

// Route dispatches one inbound envelope from sender. The sender's identity
// is always taken from its registry entry, never from the wire.
func (r *Router) Route(ctx context.Context, sender registry.Conn, env *protocol.Envelope) {
	senderID := sender.Meta().ID
	out := &protocol.Envelope{
		Type:     env.Type,
		Data:     env.Data,
		SenderID: senderID,
		TargetID: env.TargetID,
		Room:     env.Room,
	}

	var delivered bool
	switch {
	case env.TargetID != "":
		delivered = r.routeTargeted(ctx, sender, env.TargetID, out)
	case env.Room != "":
		delivered = r.routeRoom(ctx, sender, env.Room, out)
	default:
		r.BroadcastFrom(ctx, senderID, out)
		r.count(env.Type, "broadcast")
		delivered = true
	}

	// Only relayed chat enters durable history; a rejected envelope was
	// never a conversation.
	if delivered && r.sink != nil && env.Type == protocol.TypeMessage {
		r.sink.Record(out, sender.Meta())
	}
}

func (r *Router) routeTargeted(ctx context.Context, sender registry.Conn, targetID string, out *protocol.Envelope) bool {
	target, err := r.store.Get(ctx, targetID)
	if err != nil {
		// Exactly one error envelope back to the sender; no broadcast
		// fallback, no silent drop.
		r.logger.Debug("target not found",
			zap.String("sender", out.SenderID),
			zap.String("target", targetID))
		r.SendTo(ctx, sender, protocol.ErrorEnvelope("target not found"))
		r.count(out.Type, "not_found")
		return false
	}
	r.SendTo(ctx, target, out)
	r.count(out.Type, "delivered")
	return true
}

func (r *Router) routeRoom(ctx context.Context, sender registry.Conn, roomID string, out *protocol.Envelope) bool {
	senderID := out.SenderID
	members := r.rooms.Members(roomID)

	isMember := false
	for _, id := range members {
		if id == senderID {
			isMember = true
			break
		}
	}
	if !isMember {
		r.SendTo(ctx, sender, protocol.ErrorEnvelope("not a member of room "+roomID))
		r.count(out.Type, "not_found")
		return false
	}

	for _, id := range members {
		if id == senderID {
			continue
		}
		conn, err := r.store.Get(ctx, id)
		if err != nil {
			// Member disconnected between snapshot and delivery.
			continue
		}
		r.SendTo(ctx, conn, out)
	}
	r.count(out.Type, "broadcast")
	return true
}

// BroadcastFrom delivers env to every registered connection except
// excludeID. Delivery is best-effort per recipient.
func (r *Router) BroadcastFrom(ctx context.Context, excludeID string, env *protocol.Envelope) {
	r.store.ForEachExcept(ctx, excludeID, func(conn registry.Conn) {
		r.SendTo(ctx, conn, env)
	})
}

// SendTo queues one envelope to a single connection. Failures are logged,
// not surfaced: a saturated or closing peer never stalls the relay.
func (r *Router) SendTo(ctx context.Context, conn registry.Conn, env *protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		r.logger.Error("failed to encode envelope",
			zap.String("type", env.Type),
			zap.Error(err))
		return
	}
	if err := conn.Send(ctx, &registry.Message{Event: registry.EventEnvelope, Data: data}); err != nil {
		r.logger.Debug("dropped envelope",
			zap.String("recipient", conn.Meta().ID),
			zap.String("type", env.Type),
			zap.Error(err))
	}
}

func (r *Router) count(kind, outcome string) {
	if r.metrics != nil {
		r.metrics.Envelope(kind, outcome)
	}
}
