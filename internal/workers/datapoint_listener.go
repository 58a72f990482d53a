package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChangeSubscriber opens a stream of change messages. close releases it.
type ChangeSubscriber func(ctx context.Context) (msgs <-chan *redis.Message, close func() error, err error)

// RedisChangeSubscriber subscribes to channel on client.
func RedisChangeSubscriber(client *redis.Client, channel string) ChangeSubscriber {
	return func(ctx context.Context) (<-chan *redis.Message, func() error, error) {
		ps := client.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		return ps.Channel(), ps.Close, nil
	}
}

// ChangeNotifier is told about every changed data point.
type ChangeNotifier interface {
	NotifyDataPointChanged(dataPointID int64)
}

// Invalidator drops cached readings of a data point.
type Invalidator interface {
	Invalidate(dataPointID int64)
}

// DataPointListener turns data point change events into cascades.
type DataPointListener struct {
	subscribe  ChangeSubscriber
	notifier   ChangeNotifier
	invalidate Invalidator
	metrics    *metrics.MetricsRegistry
	log        *zap.SugaredLogger
}

func NewDataPointListener(sub ChangeSubscriber, notifier ChangeNotifier, inv Invalidator, m *metrics.MetricsRegistry) *DataPointListener {
	return &DataPointListener{
		subscribe:  sub,
		notifier:   notifier,
		invalidate: inv,
		metrics:    m,
		log:        logging.With("component", "datapoint_listener"),
	}
}

// Run consumes change events until ctx is done or the stream closes.
func (l *DataPointListener) Run(ctx context.Context) error {
	msgs, closeFn, err := l.subscribe(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			l.log.Warnw("Failed to close change subscription", "error", err)
		}
	}()
	l.log.Infow("Listening for data point changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			l.handle(msg.Payload)
		}
	}
}

func (l *DataPointListener) handle(payload string) {
	id, err := ParseChangePayload(payload)
	if err != nil {
		l.log.Warnw("Ignoring malformed change event", "payload", payload, "error", err)
		return
	}
	if l.metrics != nil {
		l.metrics.DataPointEventsTotal.Inc()
	}
	if l.invalidate != nil {
		l.invalidate.Invalidate(id)
	}
	l.notifier.NotifyDataPointChanged(id)
}

// ParseChangePayload accepts a bare id or a JSON object with point_id.
func ParseChangePayload(payload string) (int64, error) {
	payload = strings.TrimSpace(payload)
	if id, err := strconv.ParseInt(payload, 10, 64); err == nil {
		return positive(id)
	}
	var body struct {
		PointID json.Number `json:"point_id"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return 0, fmt.Errorf("not an id or JSON object: %w", err)
	}
	id, err := strconv.ParseInt(body.PointID.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("point_id %q is not an integer", body.PointID)
	}
	return positive(id)
}

func positive(id int64) (int64, error) {
	if id <= 0 {
		return 0, fmt.Errorf("point id %d must be positive", id)
	}
	return id, nil
}
