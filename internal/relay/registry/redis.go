package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danyal-tariq/MeetUpSync/internal/common/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPresence implements Presence using Redis. Each online connection is
// a key with a TTL so presence self-heals if a relay process dies without
// cleaning up, and join/leave transitions are published on a topic for
// interested subscribers (e.g. the REST layer's friend list).
type RedisPresence struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	topic  string
	ttl    time.Duration
}

var _ Presence = (*RedisPresence)(nil)

type presenceEvent struct {
	Action string `json:"action"` // "online" or "offline"
	Meta   *Meta  `json:"meta,omitempty"`
	ID     string `json:"id"`
}

// NewRedisPresence creates a new Redis-based presence mirror
func NewRedisPresence(logger *zap.Logger, cfg config.PresenceRedisConfig) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "presence"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		// Two monitor periods: a record outlives at most one missed probe.
		ttl = 60 * time.Second
	}

	return &RedisPresence{
		logger: logger.Named("registry.presence.redis"),
		client: client,
		prefix: prefix + ":",
		topic:  cfg.Topic,
		ttl:    ttl,
	}, nil
}

// Online implements Presence.Online
func (p *RedisPresence) Online(ctx context.Context, meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal presence metadata: %w", err)
	}
	if err := p.client.Set(ctx, p.prefix+meta.ID, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store presence: %w", err)
	}
	return p.publish(ctx, presenceEvent{Action: "online", Meta: meta, ID: meta.ID})
}

// Offline implements Presence.Offline
func (p *RedisPresence) Offline(ctx context.Context, id string) error {
	if err := p.client.Del(ctx, p.prefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return p.publish(ctx, presenceEvent{Action: "offline", ID: id})
}

// Touch implements Presence.Touch
func (p *RedisPresence) Touch(ctx context.Context, id string) error {
	return p.client.Expire(ctx, p.prefix+id, p.ttl).Err()
}

// OnlineIDs implements Presence.OnlineIDs
func (p *RedisPresence) OnlineIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := p.client.Scan(ctx, cursor, p.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence keys: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, key[len(p.prefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// Close implements Presence.Close
func (p *RedisPresence) Close() error {
	return p.client.Close()
}

func (p *RedisPresence) publish(ctx context.Context, ev presenceEvent) error {
	if p.topic == "" {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal presence event: %w", err)
	}
	if err := p.client.Publish(ctx, p.topic, data).Err(); err != nil {
		p.logger.Warn("failed to publish presence event",
			zap.String("id", ev.ID),
			zap.Error(err))
	}
	return nil
}
