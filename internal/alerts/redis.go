package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/sync-conflict-monitor/internal/feed"
	"github.com/example/sync-conflict-monitor/internal/types"
)

const (
	defaultChannel  = "monitor:alerts"
	defaultDedupe   = 2 * time.Minute
	defaultQueue    = 256
	maxBackoffDelay = 30 * time.Second
)

type envelope struct {
	Result     types.MonitorResult `json:"result"`
	EnqueuedAt int64               `json:"enqueued_at"`
}

// Broadcaster relays warning-and-above monitor results through Redis Pub/Sub
// so every monitor instance can fan them out to its local feed subscribers.
type Broadcaster struct {
	client *redis.Client
	hub    *feed.Hub
	logger zerolog.Logger

	channel   string
	dedupeTTL time.Duration
	threshold types.Severity
	queue     chan types.MonitorResult

	seenMu sync.Mutex
	seen   map[string]time.Time

	latency prometheus.Histogram
}

// NewBroadcaster constructs an alert broadcaster backed by Redis Pub/Sub.
func NewBroadcaster(client *redis.Client, hub *feed.Hub, logger zerolog.Logger) *Broadcaster {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "alerts",
		Name:      "publish_to_deliver_seconds",
		Help:      "Observed latency between publishing an alert and local delivery.",
		Buckets:   prometheus.LinearBuckets(0.005, 0.005, 12),
	})
	if err := prometheus.Register(histogram); err != nil {
		if regErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			histogram = regErr.ExistingCollector.(prometheus.Histogram)
		}
	}

	return &Broadcaster{
		client:    client,
		hub:       hub,
		logger:    logger,
		channel:   defaultChannel,
		dedupeTTL: defaultDedupe,
		threshold: types.SeverityWarning,
		queue:     make(chan types.MonitorResult, defaultQueue),
		seen:      make(map[string]time.Time),
		latency:   histogram,
	}
}

// Enqueue accepts a result for broadcasting without blocking the analysis
// path. Results below the severity threshold are ignored, and the queue drops
// under pressure with a log entry.
func (b *Broadcaster) Enqueue(result types.MonitorResult) {
	if !result.HasIssue || !result.Severity.AtLeast(b.threshold) {
		return
	}
	select {
	case b.queue <- result:
	default:
		b.logger.Warn().Str("result", result.ID).Msg("alert queue full; alert not broadcast")
	}
}

// Start launches the publisher and subscriber loops.
func (b *Broadcaster) Start(ctx context.Context) {
	go b.publishLoop(ctx)
	go b.subscribeLoop(ctx)
}

func (b *Broadcaster) publishLoop(ctx context.Context) {
	for {
		select {
		case result := <-b.queue:
			if err := b.publish(ctx, result); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Warn().Err(err).Str("result", result.ID).Msg("alert publish failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) publish(ctx context.Context, result types.MonitorResult) error {
	if b.client == nil {
		return errors.New("nil redis client")
	}

	encoded, err := json.Marshal(envelope{Result: result, EnqueuedAt: time.Now().UTC().UnixNano()})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	backoff := time.Second
	for {
		if err := b.client.Publish(ctx, b.channel, encoded).Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			b.logger.Warn().Err(err).Dur("backoff", backoff).Msg("redis publish failed; retrying")
			select {
			case <-time.After(backoff):
				backoff = minDuration(backoff*2, maxBackoffDelay)
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

func (b *Broadcaster) subscribeLoop(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := b.client.Subscribe(ctx, b.channel)
		if err := b.consume(ctx, pubsub); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn().Err(err).Dur("backoff", backoff).Msg("alert subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = minDuration(backoff*2, maxBackoffDelay)
		}
	}
}

func (b *Broadcaster) consume(ctx context.Context, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if err := b.process(msg); err != nil {
				b.logger.Warn().Err(err).Msg("failed to process alert message")
			}
		}
	}
}

func (b *Broadcaster) process(msg *redis.Message) error {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		return fmt.Errorf("decode alert: %w", err)
	}
	if env.Result.ID == "" {
		return errors.New("alert missing result id")
	}

	if b.isDuplicate(env.Result.ID) {
		return nil
	}

	if env.EnqueuedAt > 0 {
		b.latency.Observe(float64(time.Since(time.Unix(0, env.EnqueuedAt))) / float64(time.Second))
	}

	b.hub.Broadcast(env.Result)
	return nil
}

func (b *Broadcaster) isDuplicate(resultID string) bool {
	now := time.Now()

	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	for id, ts := range b.seen {
		if now.Sub(ts) > b.dedupeTTL {
			delete(b.seen, id)
		}
	}

	if _, ok := b.seen[resultID]; ok {
		return true
	}
	b.seen[resultID] = now
	return false
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
