package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"

	"github.com/redis/go-redis/v9"
)

// ResultPublisher pushes finished runs to live consumers.
type ResultPublisher interface {
	Publish(ctx context.Context, update PointUpdate) error
}

// PointUpdate is the outcome of one run as seen by live consumers.
type PointUpdate struct {
	TenantID     int64
	PointID      int64
	Value        *expression.Value
	Status       entities.PointStatus
	Error        *entities.CalcError
	CalculatedAt time.Time
}

// RedisPublisher is the subset of redis.Cmdable the publisher needs.
type RedisPublisher interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisResultPublisher stores the latest value under virtualpoint:{id} and
// announces it on the vp:updates channel.
type RedisResultPublisher struct {
	client RedisPublisher
	ttl    time.Duration
}

var _ ResultPublisher = (*RedisResultPublisher)(nil)

func NewRedisResultPublisher(client RedisPublisher, ttl time.Duration) *RedisResultPublisher {
	return &RedisResultPublisher{client: client, ttl: ttl}
}

type virtualPointPayload struct {
	PointID   int64                `json:"point_id"`
	TenantID  int64                `json:"tenant_id"`
	Value     *expression.Value    `json:"value"`
	Timestamp int64                `json:"timestamp"`
	Quality   Quality              `json:"quality"`
	Status    entities.PointStatus `json:"status"`
	Error     *entities.CalcError  `json:"error,omitempty"`
	IsVirtual bool                 `json:"is_virtual"`
}

func (p *RedisResultPublisher) Publish(ctx context.Context, u PointUpdate) error {
	payload := virtualPointPayload{
		PointID:   u.PointID,
		TenantID:  u.TenantID,
		Value:     u.Value,
		Timestamp: u.CalculatedAt.UnixMilli(),
		Quality:   QualityGood,
		Status:    u.Status,
		Error:     u.Error,
		IsVirtual: true,
	}
	if u.Status == entities.StatusError {
		quality := QualityBad
		if u.Value != nil {
			// a policy substituted a value
			quality = QualityUncertain
		}
		payload.Quality = quality
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode update of %d: %w", u.PointID, err)
	}

	key := fmt.Sprintf(constants.RedisVirtualPointKey, u.PointID)
	if err := p.client.Set(ctx, key, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	if err := p.client.Publish(ctx, constants.RedisVirtualPointChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish update of %d: %w", u.PointID, err)
	}
	return nil
}

// NopPublisher drops updates; used when Redis is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, PointUpdate) error { return nil }
