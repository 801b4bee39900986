package registry

import (
	"context"
	"fmt"

	"github.com/danyal-tariq/MeetUpSync/internal/common/config"

	"go.uber.org/zap"
)

// Presence mirrors the registry's online/offline state somewhere the
// external REST layer can read it for display. The relay never blocks on
// it and never reads it back for routing decisions.
type Presence interface {
	// Online records that a connection is established.
	Online(ctx context.Context, meta *Meta) error

	// Offline removes a connection's presence record.
	Offline(ctx context.Context, id string) error

	// Touch refreshes a presence record, called on each heartbeat response.
	Touch(ctx context.Context, id string) error

	// OnlineIDs returns the ids currently marked online.
	OnlineIDs(ctx context.Context) ([]string, error)

	// Close releases any backing resources.
	Close() error
}

// Type represents the type of presence mirror
type Type string

const (
	// TypeMemory keeps presence purely in-process (the registry itself).
	TypeMemory Type = "memory"
	// TypeRedis mirrors presence into Redis for cross-process readers.
	TypeRedis Type = "redis"
)

// NewPresence creates a presence mirror based on configuration. The memory
// type returns a mirror backed by the store itself.
func NewPresence(logger *zap.Logger, cfg *config.PresenceConfig, store Store) (Presence, error) {
	logger.Info("initializing presence mirror", zap.String("type", cfg.Type))
	switch Type(cfg.Type) {
	case TypeMemory, "":
		return &storePresence{store: store}, nil
	case TypeRedis:
		return NewRedisPresence(logger, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported presence type: %s", cfg.Type)
	}
}

// storePresence serves presence reads straight from the registry; writes
// are no-ops because the registry already is the source of truth.
type storePresence struct {
	store Store
}

var _ Presence = (*storePresence)(nil)

func (p *storePresence) Online(context.Context, *Meta) error { return nil }

func (p *storePresence) Offline(context.Context, string) error { return nil }

func (p *storePresence) Touch(context.Context, string) error { return nil }

func (p *storePresence) OnlineIDs(ctx context.Context) ([]string, error) {
	return p.store.IDs(ctx)
}

func (p *storePresence) Close() error { return nil }
