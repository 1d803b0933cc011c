// Package sharesink publishes share events to Redis, grounded on the
// teacher's internal/cache/redis_cache.go connection/options pattern
// (pool size, dial/read/write timeouts, ping-on-connect). Spec §9 scopes
// payment tracking and stats aggregation out of this core; this package
// is the one concrete downstream consumer share events need so the Job
// Manager's OnShare hook has a real destination instead of a no-op.
package sharesink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vertexpool/stratum-core/internal/jobmanager"
)

const streamMaxLen = 100_000

// Config configures the Redis connection.
type Config struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	PoolID     string
}

// Sink publishes share events onto a Redis stream.
type Sink struct {
	client *redis.Client
	stream string
}

// New connects to Redis and verifies reachability with Ping.
func New(cfg Config) (*Sink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sharesink: connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "stratum"
	}

	return &Sink{
		client: client,
		stream: fmt.Sprintf("%s:%s:shares", prefix, cfg.PoolID),
	}, nil
}

// Close releases the Redis connection.
func (s *Sink) Close() error {
	return s.client.Close()
}

// Publish appends one share event to the stream, capped to streamMaxLen
// entries (approximate trim, matching Redis's own MAXLEN ~ semantics).
func (s *Sink) Publish(ctx context.Context, ev jobmanager.ShareEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sharesink: marshal share event: %w", err)
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": body},
	}).Err()
}

// PublishAsync fires Publish in a goroutine with a bounded timeout so a
// slow Redis never stalls the event loop that called it, logging failures
// through onErr rather than propagating them to the caller.
func (s *Sink) PublishAsync(ev jobmanager.ShareEvent, onErr func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Publish(ctx, ev); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}
