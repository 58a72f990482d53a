package providers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/metrics"

	"github.com/jmoiron/sqlx"
)

// PostgresDataPointProvider reads the collector's current_values table.
type PostgresDataPointProvider struct {
	db      *sqlx.DB
	maxAge  time.Duration
	now     func() time.Time
	metrics *metrics.MetricsRegistry
}

var _ DataPointProvider = (*PostgresDataPointProvider)(nil)

// NewPostgresDataPointProvider builds the provider. m may be nil.
func NewPostgresDataPointProvider(db *sqlx.DB, maxAge time.Duration, m *metrics.MetricsRegistry) *PostgresDataPointProvider {
	return &PostgresDataPointProvider{db: db, maxAge: maxAge, now: time.Now, metrics: m}
}

func (p *PostgresDataPointProvider) GetProviderType() string {
	return "postgres"
}

type currentValueRow struct {
	PointID        int64          `db:"point_id"`
	CurrentValue   sql.NullString `db:"current_value"`
	ValueType      sql.NullString `db:"value_type"`
	QualityCode    sql.NullInt64  `db:"quality_code"`
	ValueTimestamp sql.NullTime   `db:"value_timestamp"`
}

func (p *PostgresDataPointProvider) CurrentValue(ctx context.Context, tenantID, dataPointID int64) (Reading, error) {
	var row currentValueRow
	start := time.Now()
	err := p.db.GetContext(ctx, &row, constants.GetDataPointCurrentValue, dataPointID)
	if p.metrics != nil {
		p.metrics.DBQueriesTotal.WithLabelValues("current_value").Inc()
		p.metrics.DBQueryDuration.WithLabelValues("current_value").Observe(time.Since(start).Seconds())
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Reading{}, notFound(dataPointID)
	}
	if err != nil {
		return Reading{}, unavailable("postgres", err)
	}
	if !row.CurrentValue.Valid {
		return Reading{}, notFound(dataPointID)
	}

	v, err := decodeCurrentValue(row.CurrentValue.String, row.ValueType.String)
	if err != nil {
		return Reading{}, malformed(dataPointID, err)
	}
	reading := Reading{Value: v, Quality: QualityFromCode(int(row.QualityCode.Int64))}
	if row.ValueTimestamp.Valid {
		reading.Timestamp = row.ValueTimestamp.Time.UTC()
	}
	if err := reading.check(dataPointID, p.maxAge, p.now()); err != nil {
		return Reading{}, err
	}
	return reading, nil
}

// decodeCurrentValue accepts the JSON envelope {"value": x} written by the
// collector, or a bare scalar.
func decodeCurrentValue(raw, valueType string) (expression.Value, error) {
	var envelope struct {
		Value any `json:"value"`
	}
	var x any
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Value != nil {
		x = envelope.Value
	} else if err := json.Unmarshal([]byte(raw), &x); err != nil {
		x = raw
	}

	if s, ok := x.(string); ok {
		if valueType == "string" {
			return expression.String(s), nil
		}
		return InferValue(s), nil
	}
	v, err := expression.FromInterface(x)
	if err != nil {
		return expression.Null(), err
	}
	if v.IsNull() {
		return v, errors.New("null current value")
	}
	if valueType == "bool" && v.Kind() == expression.KindNumber {
		return expression.Boolean(v.Num() != 0), nil
	}
	return v, nil
}
