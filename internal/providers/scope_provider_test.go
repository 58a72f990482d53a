package providers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(v int64) *int64 { return &v }

func setupScopeDB(t *testing.T) *sqlx.DB {
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	db.MustExec(`CREATE TABLE sites (id INTEGER PRIMARY KEY, tenant_id INTEGER NOT NULL)`)
	db.MustExec(`CREATE TABLE devices (id INTEGER PRIMARY KEY, tenant_id INTEGER NOT NULL, site_id INTEGER NOT NULL)`)
	db.MustExec(`INSERT INTO sites (id, tenant_id) VALUES (1, 1), (2, 1), (3, 2)`)
	db.MustExec(`INSERT INTO devices (id, tenant_id, site_id) VALUES (10, 1, 1), (11, 1, 2), (12, 2, 3)`)
	return db
}

func TestSQLScopeProvider_ValidScope(t *testing.T) {
	p := NewSQLScopeProvider(setupScopeDB(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		scope entities.Scope
		want  bool
	}{
		{"global", entities.Scope{Type: entities.ScopeGlobal}, true},
		{"own site", entities.Scope{Type: entities.ScopeSite, ID: id(1)}, true},
		{"other tenant site", entities.Scope{Type: entities.ScopeSite, ID: id(3)}, false},
		{"missing site", entities.Scope{Type: entities.ScopeSite, ID: id(99)}, false},
		{"site without id", entities.Scope{Type: entities.ScopeSite}, false},
		{"own device", entities.Scope{Type: entities.ScopeDevice, ID: id(10)}, true},
		{"other tenant device", entities.Scope{Type: entities.ScopeDevice, ID: id(12)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := p.ValidScope(ctx, 1, tt.scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	site, err := p.SiteOfDevice(ctx, 1, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(2), site)

	_, err = p.SiteOfDevice(ctx, 1, 12)
	assert.ErrorIs(t, err, ErrScopeNotFound)
}

func TestVisible(t *testing.T) {
	sp := &PermissiveScopeProvider{DeviceSites: map[int64]int64{10: 1, 11: 2}}
	global := entities.Scope{Type: entities.ScopeGlobal}
	site1 := entities.Scope{Type: entities.ScopeSite, ID: id(1)}
	site2 := entities.Scope{Type: entities.ScopeSite, ID: id(2)}
	dev10 := entities.Scope{Type: entities.ScopeDevice, ID: id(10)}
	dev11 := entities.Scope{Type: entities.ScopeDevice, ID: id(11)}
	dev99 := entities.Scope{Type: entities.ScopeDevice, ID: id(99)}

	tests := []struct {
		name               string
		producer, consumer entities.Scope
		want               bool
	}{
		{"global to device", global, dev10, true},
		{"global to global", global, global, true},
		{"site to same site", site1, site1, true},
		{"site to other site", site1, site2, false},
		{"site to its device", site1, dev10, true},
		{"site to foreign device", site1, dev11, false},
		{"site to unknown device", site1, dev99, false},
		{"site to global", site1, global, false},
		{"device to same device", dev10, dev10, true},
		{"device to site", dev10, site1, false},
		{"device to other device", dev10, dev11, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Visible(context.Background(), sp, 1, tt.producer, tt.consumer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestPermissiveScopeProvider(t *testing.T) {
	sp := &PermissiveScopeProvider{}
	ctx := context.Background()

	ok, _ := sp.ValidScope(ctx, 1, entities.Scope{Type: entities.ScopeSite, ID: id(5)})
	assert.True(t, ok)
	ok, _ = sp.ValidScope(ctx, 1, entities.Scope{Type: entities.ScopeDevice})
	assert.False(t, ok)
	ok, _ = sp.ValidScope(ctx, 1, entities.Scope{Type: entities.ScopeGlobal, ID: id(1)})
	assert.False(t, ok)
}

func TestRedisResultPublisher(t *testing.T) {
	rdb := newFakeRedis()
	pub := NewRedisResultPublisher(rdb, time.Hour)
	v := expression.Number(42)
	at := time.UnixMilli(1700000000000).UTC()

	require.NoError(t, pub.Publish(context.Background(), PointUpdate{
		TenantID: 1, PointID: 7, Value: &v, Status: entities.StatusActive, CalculatedAt: at,
	}))
	require.NoError(t, pub.Publish(context.Background(), PointUpdate{
		TenantID: 1, PointID: 8, Status: entities.StatusError, CalculatedAt: at,
		Error: &entities.CalcError{Kind: "division_by_zero", Message: "division by zero"},
	}))

	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(rdb.data["virtualpoint:7"]), &stored))
	assert.Equal(t, 42.0, stored["value"])
	assert.Equal(t, "good", stored["quality"])
	assert.Equal(t, float64(1700000000000), stored["timestamp"])
	assert.Equal(t, true, stored["is_virtual"])

	require.NoError(t, json.Unmarshal([]byte(rdb.data["virtualpoint:8"]), &stored))
	assert.Nil(t, stored["value"])
	assert.Equal(t, "bad", stored["quality"])
	assert.Equal(t, "error", stored["status"])

	assert.Len(t, rdb.published["vp:updates"], 2)
}
