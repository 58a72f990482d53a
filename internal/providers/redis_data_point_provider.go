package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/expression"

	"github.com/redis/go-redis/v9"
)

// RedisGetter is the subset of redis.Cmdable the provider needs.
type RedisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisDataPointProvider reads the collector's point:{id}:latest keys.
type RedisDataPointProvider struct {
	client RedisGetter
	maxAge time.Duration
	now    func() time.Time
}

var _ DataPointProvider = (*RedisDataPointProvider)(nil)

func NewRedisDataPointProvider(client RedisGetter, maxAge time.Duration) *RedisDataPointProvider {
	return &RedisDataPointProvider{client: client, maxAge: maxAge, now: time.Now}
}

func (p *RedisDataPointProvider) GetProviderType() string {
	return "redis"
}

// latestPayload mirrors the collector's JSON. value is usually a string but
// numbers and booleans are accepted; quality may be a code or a name.
type latestPayload struct {
	PointID   int64           `json:"point_id"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Quality   json.RawMessage `json:"quality"`
}

func (p *RedisDataPointProvider) CurrentValue(ctx context.Context, tenantID, dataPointID int64) (Reading, error) {
	key := fmt.Sprintf(constants.RedisDataPointLatestKey, dataPointID)
	data, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Reading{}, notFound(dataPointID)
	}
	if err != nil {
		return Reading{}, unavailable("redis", err)
	}

	reading, err := decodeLatest(data)
	if err != nil {
		return Reading{}, malformed(dataPointID, err)
	}
	if err := reading.check(dataPointID, p.maxAge, p.now()); err != nil {
		return Reading{}, err
	}
	return reading, nil
}

func decodeLatest(data []byte) (Reading, error) {
	var payload latestPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Reading{}, err
	}
	if len(payload.Value) == 0 {
		return Reading{}, errors.New("missing value")
	}

	var r Reading
	var text string
	if err := json.Unmarshal(payload.Value, &text); err == nil {
		r.Value = InferValue(text)
	} else {
		var raw any
		if err := json.Unmarshal(payload.Value, &raw); err != nil {
			return Reading{}, err
		}
		v, err := expression.FromInterface(raw)
		if err != nil {
			return Reading{}, err
		}
		r.Value = v
	}

	q := strings.Trim(string(payload.Quality), `"`)
	if q == "null" {
		q = ""
	}
	r.Quality = ParseQuality(q)
	if payload.Timestamp > 0 {
		r.Timestamp = time.UnixMilli(payload.Timestamp).UTC()
	}
	return r, nil
}
