package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamConfig configures a RedisStreamSink.
type RedisStreamConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// RedisStreamSink appends events to a capped Redis stream.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(cfg RedisStreamConfig) (*RedisStreamSink, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("event stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamSink{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

func (s *RedisStreamSink) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id": evt.ID,
			"type":     evt.Type,
			"at":       evt.At.Format(time.RFC3339Nano),
			"data":     string(data),
		},
	}).Err()
}

// Recent returns up to n of the newest events, newest first.
func (s *RedisStreamSink) Recent(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		evt, ok := decodeStreamEvent(msg.Values)
		if !ok {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}

func decodeStreamEvent(values map[string]any) (Event, bool) {
	id, _ := values["event_id"].(string)
	eventType, _ := values["type"].(string)
	if id == "" || eventType == "" {
		return Event{}, false
	}
	evt := Event{ID: id, Type: eventType}
	if at, _ := values["at"].(string); at != "" {
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			evt.At = ts
		}
	}
	if data, _ := values["data"].(string); data != "" && data != "null" {
		_ = json.Unmarshal([]byte(data), &evt.Data)
	}
	return evt, true
}
