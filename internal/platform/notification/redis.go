package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// StreamAdder is the subset of *redis.Client used by RedisStreamNotifier.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamNotifier appends each event to a Redis stream for a delivery
// worker to consume. The stream is capped at roughly maxLen entries.
type RedisStreamNotifier struct {
	client StreamAdder
	stream string
	maxLen int64
}

const DefaultStream = "retinascan:notifications"

func NewRedisStreamNotifier(client StreamAdder, stream string, maxLen int64) *RedisStreamNotifier {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamNotifier{client: client, stream: stream, maxLen: maxLen}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (n *RedisStreamNotifier) Notify(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{
			"type":       string(evt.Type),
			"scan_id":    evt.ScanID,
			"patient_id": evt.PatientID,
			"data":       string(payload),
			"timestamp":  evt.OccurredAt.Unix(),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}

	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish to stream %s: %w", n.stream, err)
	}
	return nil
}
