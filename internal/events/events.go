// Package events 通过 Redis Pub/Sub 广播申请状态变化，供 WebSocket 连接转发给前端。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event 是推送给前端的状态变化消息，字段名与前端解析保持一致。
type Event struct {
	ApplicationID  string    `json:"application_id"`
	Operation      string    `json:"operation"`
	Status         string    `json:"status"`
	AnalysisStatus string    `json:"analysis_status"`
	AnalysisCount  int       `json:"analysis_count"`
	Detail         string    `json:"detail,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	At             time.Time `json:"at"`
}

// Channel returns the pub/sub channel for one application.
func Channel(applicationID string) string {
	return fmt.Sprintf("application_events:%s", applicationID)
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher 将事件序列化为 JSON 并发布到申请对应的频道。
type RedisPublisher struct {
	client redisPublisher
}

// NewRedisPublisher wraps a redis client.
func NewRedisPublisher(client redisPublisher) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends evt to Channel(evt.ApplicationID).
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	channel := Channel(evt.ApplicationID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish event to %q: %w", channel, err)
	}
	return nil
}

type correlationKey struct{}

// WithCorrelationID attaches a request correlation id to ctx so published events carry it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
