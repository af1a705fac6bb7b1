package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/sync-conflict-monitor/internal/monitor"
	"github.com/example/sync-conflict-monitor/internal/types"
)

const (
	defaultTTL       = 45 * time.Second
	defaultKeyPrefix = "heartbeat:replica:"
)

type payload struct {
	Replica      types.ReplicaID `json:"replica_id"`
	PendingCount int             `json:"pending_count"`
	SeenAt       time.Time       `json:"seen_at"`
}

// Service tracks replica liveness through Redis TTL keys. A replica is online
// while its heartbeat key exists; expiry flips the device state offline.
type Service struct {
	client  *redis.Client
	devices *monitor.DeviceRegistry
	logger  zerolog.Logger

	ttl       time.Duration
	keyPrefix string
}

// NewService constructs a heartbeat service backed by Redis.
func NewService(client *redis.Client, devices *monitor.DeviceRegistry, logger zerolog.Logger) *Service {
	return &Service{
		client:    client,
		devices:   devices,
		logger:    logger,
		ttl:       defaultTTL,
		keyPrefix: defaultKeyPrefix,
	}
}

// Heartbeat persists the liveness signal and updates the device registry.
func (s *Service) Heartbeat(ctx context.Context, replica types.ReplicaID, pending int) error {
	if replica == "" {
		return errors.New("heartbeat missing replica id")
	}

	now := time.Now().UTC()
	s.devices.Heartbeat(replica, pending, now)

	if s.client == nil {
		return errors.New("nil redis client")
	}

	encoded, err := json.Marshal(payload{Replica: replica, PendingCount: pending, SeenAt: now})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := s.client.Set(ctx, s.key(replica), encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache heartbeat: %w", err)
	}

	heartbeatsTotal.WithLabelValues(string(replica)).Inc()
	return nil
}

// Start begins the expiry loop that flips replicas offline once their
// heartbeat key lapses.
func (s *Service) Start(ctx context.Context) {
	go s.expireLoop(ctx)
}

func (s *Service) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneExpired(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) pruneExpired(ctx context.Context) {
	for _, state := range s.devices.Snapshot() {
		if !state.IsOnline {
			continue
		}
		exists, err := s.client.Exists(ctx, s.key(state.Replica)).Result()
		if err != nil {
			s.logger.Warn().Err(err).Str("replica", string(state.Replica)).Msg("heartbeat ttl check failed")
			continue
		}
		if exists == 0 {
			s.devices.SetOnline(state.Replica, false)
			s.logger.Debug().Str("replica", string(state.Replica)).Msg("replica heartbeat expired")
		}
	}
}

func (s *Service) key(replica types.ReplicaID) string {
	return s.keyPrefix + string(replica)
}
