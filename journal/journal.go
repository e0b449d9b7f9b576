package journal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one recorded lifecycle transition.
type Event struct {
	// OpID correlates the event with the orchestrated operation that
	// produced it.
	OpID string `json:"op_id,omitempty"`

	// Plugin is the registry key of the plugin that transitioned.
	Plugin string `json:"plugin"`

	// Version is the plugin's declared version at the time of the event.
	Version string `json:"version,omitempty"`

	// Op names the lifecycle operation (e.g., "register", "install").
	Op string `json:"op"`

	// From and To are the lifecycle states around the transition.
	From string `json:"from"`
	To   string `json:"to"`

	// Detail carries optional operation output, such as an install descriptor.
	Detail string `json:"detail,omitempty"`

	// At is the timestamp the transition was committed.
	At time.Time `json:"at"`
}

// Recorder is the interface the manager records lifecycle events through.
//
// Implementations must be safe for concurrent use. Record should be cheap;
// callers treat failures as non-fatal and only log them.
type Recorder interface {
	// Record appends an event to the journal.
	Record(ctx context.Context, ev Event) error

	// History returns up to limit events, newest first.
	History(ctx context.Context, limit int) ([]Event, error)

	// Close releases the journal's resources.
	Close() error
}

// Options configures the Redis connection backing a journal.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379").
	URL string

	// TLS configuration for secure connections.
	TLS *tls.Config

	// Prefix is the key prefix for journal keys. Default: "plm".
	// Events land in "<prefix>:events" and are published on
	// "<prefix>:events:live".
	Prefix string

	// MaxLen caps the number of retained events. Default: 1024.
	MaxLen int64

	// ConnectTimeout is the maximum time to wait for connection establishment.
	ConnectTimeout time.Duration
}

// RedisJournal implements Recorder using go-redis/v9.
type RedisJournal struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisJournal creates a journal backed by the given Redis instance and
// verifies connectivity with a ping.
func NewRedisJournal(opts Options) (*RedisJournal, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "plm"
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 1024
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisJournal{
		client: client,
		prefix: opts.Prefix,
		maxLen: opts.MaxLen,
	}, nil
}

// Record appends the event to the capped journal list and publishes it on
// the live channel.
func (j *RedisJournal) Record(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := j.eventsKey()
	pipe := j.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, j.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Live publication is best effort; a missing subscriber is not an error.
	if err := j.client.Publish(ctx, j.liveChannel(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// History returns up to limit events, newest first.
func (j *RedisJournal) History(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = int(j.maxLen)
	}

	raw, err := j.client.LRange(ctx, j.eventsKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, ev)
	}

	return events, nil
}

// Watch subscribes to the live event channel. The returned channel receives
// events until the context is cancelled.
func (j *RedisJournal) Watch(ctx context.Context) (<-chan Event, error) {
	pubsub := j.client.Subscribe(ctx, j.liveChannel())

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to journal channel: %w", err)
	}

	out := make(chan Event)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the underlying Redis connection.
func (j *RedisJournal) Close() error {
	return j.client.Close()
}

func (j *RedisJournal) eventsKey() string {
	return j.prefix + ":events"
}

func (j *RedisJournal) liveChannel() string {
	return j.prefix + ":events:live"
}
