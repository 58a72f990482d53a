package repositories

import (
	"context"
	"testing"
	"time"

	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"
	gormModels "pulseone/vpengine/internal/models/gorm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	gormlib "gorm.io/gorm"
)

// Setup test database
func setupTestDB(t *testing.T) *gormlib.DB {
	db, err := gormlib.Open(sqlite.Open(":memory:"), &gormlib.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// every new connection to :memory: would see an empty database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&gormModels.VirtualPoint{}, &gormModels.VirtualPointInput{}, &gormModels.VirtualPointExecution{},
		&gormModels.FormulaTemplate{}, &gormModels.FormulaTemplateUsage{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func samplePoint(name string) *entities.VirtualPoint {
	k := expression.Number(1.5)
	def := expression.Number(0)
	site := int64(7)
	return &entities.VirtualPoint{
		TenantID:     1,
		Name:         name,
		Category:     "energy",
		Tags:         []string{"hvac", "line-1"},
		DataType:     entities.DataTypeNumber,
		Expression:   "a * k",
		Scope:        entities.Scope{Type: entities.ScopeSite, ID: &site},
		Trigger:      entities.TriggerPeriodic,
		IntervalMs:   2000,
		OnError:      entities.OnErrorDefaultValue,
		DefaultValue: &def,
		IsEnabled:    true,
		Inputs: []entities.InputVariable{
			{Name: "a", DataType: entities.DataTypeNumber, IsRequired: true, Source: entities.InputSource{Type: entities.SourceDataPoint, PointID: 100}},
			{Name: "k", DataType: entities.DataTypeNumber, Source: entities.InputSource{Type: entities.SourceConstant, Constant: &k}},
		},
	}
}

func TestVirtualPointRepo_CreateAndGet(t *testing.T) {
	repo := NewVirtualPointRepo(setupTestDB(t))
	ctx := context.Background()

	m := ModelFromEntity(samplePoint("Line Power"))
	require.NoError(t, repo.Create(ctx, m))
	require.NotZero(t, m.ID)

	got, err := repo.GetByID(ctx, 1, m.ID, false)
	require.NoError(t, err)
	require.NotNil(t, got)

	vp := EntityFromModel(got)
	assert.Equal(t, "Line Power", vp.Name)
	assert.Equal(t, []string{"hvac", "line-1"}, vp.Tags)
	require.Len(t, vp.Inputs, 2)
	assert.Equal(t, "a", vp.Inputs[0].Name)
	assert.Equal(t, int64(100), vp.Inputs[0].Source.PointID)
	require.NotNil(t, vp.Inputs[1].Source.Constant)
	assert.Equal(t, 1.5, vp.Inputs[1].Source.Constant.Num())
	require.NotNil(t, vp.DefaultValue)
	assert.Equal(t, expression.KindNumber, vp.DefaultValue.Kind())

	rt := RuntimeFromModel(got)
	assert.Equal(t, entities.StatusActive, rt.Status)
	assert.Nil(t, rt.CurrentValue)

	other, err := repo.GetByID(ctx, 2, m.ID, false)
	require.NoError(t, err)
	assert.Nil(t, other, "points are tenant scoped")
}

func TestVirtualPointRepo_UpdateReplacesInputs(t *testing.T) {
	repo := NewVirtualPointRepo(setupTestDB(t))
	ctx := context.Background()

	vp := samplePoint("P")
	m := ModelFromEntity(vp)
	require.NoError(t, repo.Create(ctx, m))

	vp.ID = m.ID
	vp.Expression = "b"
	vp.IsEnabled = false
	vp.Inputs = []entities.InputVariable{
		{Name: "b", DataType: entities.DataTypeNumber, IsRequired: true, Source: entities.InputSource{Type: entities.SourceVirtualPoint, PointID: 55}},
	}
	require.NoError(t, repo.Update(ctx, ModelFromEntity(vp)))

	got, err := repo.GetByID(ctx, 1, m.ID, false)
	require.NoError(t, err)
	updated := EntityFromModel(got)
	assert.Equal(t, "b", updated.Expression)
	assert.False(t, updated.IsEnabled)
	require.Len(t, updated.Inputs, 1)
	assert.Equal(t, entities.SourceVirtualPoint, updated.Inputs[0].Source.Type)

	vp.ID = 9999
	assert.ErrorIs(t, repo.Update(ctx, ModelFromEntity(vp)), gormlib.ErrRecordNotFound)
}

func TestVirtualPointRepo_SoftDeleteRestoreAndConsumers(t *testing.T) {
	repo := NewVirtualPointRepo(setupTestDB(t))
	ctx := context.Background()

	producer := ModelFromEntity(samplePoint("producer"))
	require.NoError(t, repo.Create(ctx, producer))

	consumerDef := samplePoint("consumer")
	consumerDef.Inputs = append(consumerDef.Inputs, entities.InputVariable{
		Name: "p", DataType: entities.DataTypeNumber, Source: entities.InputSource{Type: entities.SourceVirtualPoint, PointID: producer.ID},
	})
	consumer := ModelFromEntity(consumerDef)
	require.NoError(t, repo.Create(ctx, consumer))

	ids, err := repo.LiveConsumers(ctx, producer.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{consumer.ID}, ids)

	ok, err := repo.SoftDelete(ctx, 1, consumer.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err = repo.LiveConsumers(ctx, producer.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	gone, err := repo.GetByID(ctx, 1, consumer.ID, false)
	require.NoError(t, err)
	assert.Nil(t, gone)

	deleted, err := repo.GetByID(ctx, 1, consumer.ID, true)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	deletedEntity := EntityFromModel(deleted)
	assert.True(t, deletedEntity.IsDeleted())
	assert.Equal(t, entities.StatusDisabled, RuntimeFromModel(deleted).Status)

	ok, err = repo.Restore(ctx, 1, consumer.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Restore(ctx, 1, consumer.ID)
	require.NoError(t, err)
	assert.False(t, ok, "restoring a live point is a no-op")
}

func TestVirtualPointRepo_ListFilters(t *testing.T) {
	repo := NewVirtualPointRepo(setupTestDB(t))
	ctx := context.Background()

	for i, name := range []string{"Boiler Temp", "Chiller Load", "Boiler Flow"} {
		vp := samplePoint(name)
		if i == 1 {
			vp.Category = "cooling"
			vp.IsEnabled = false
		}
		require.NoError(t, repo.Create(ctx, ModelFromEntity(vp)))
	}

	rows, total, err := repo.List(ctx, 1, ListFilter{Search: "boiler", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, rows, 2)

	enabled := false
	rows, total, err = repo.List(ctx, 1, ListFilter{Enabled: &enabled, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "Chiller Load", rows[0].Name)

	rows, total, err = repo.List(ctx, 1, ListFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, rows, 1)

	stats, err := repo.CategoryStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "cooling", stats[0].Category)
	assert.Equal(t, int64(0), stats[0].Enabled)
	assert.Equal(t, int64(2), stats[1].Total)
}

func TestVirtualPointRepo_NameTaken(t *testing.T) {
	repo := NewVirtualPointRepo(setupTestDB(t))
	ctx := context.Background()

	m := ModelFromEntity(samplePoint("Main Meter"))
	require.NoError(t, repo.Create(ctx, m))

	site := int64(7)
	otherSite := int64(8)
	taken, err := repo.NameTaken(ctx, 1, entities.Scope{Type: entities.ScopeSite, ID: &site}, "main meter", 0)
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = repo.NameTaken(ctx, 1, entities.Scope{Type: entities.ScopeSite, ID: &site}, "Main Meter", m.ID)
	require.NoError(t, err)
	assert.False(t, taken, "a point does not collide with itself")

	taken, err = repo.NameTaken(ctx, 1, entities.Scope{Type: entities.ScopeSite, ID: &otherSite}, "Main Meter", 0)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestVirtualPointRepo_SaveRuntime(t *testing.T) {
	repo := NewVirtualPointRepo(setupTestDB(t))
	ctx := context.Background()

	m := ModelFromEntity(samplePoint("R"))
	require.NoError(t, repo.Create(ctx, m))

	v := expression.Number(42)
	now := time.Now().UTC().Truncate(time.Second)
	err := repo.SaveRuntime(ctx, []RuntimeUpdate{{
		PointID: m.ID,
		State: entities.RuntimeState{
			CurrentValue:     &v,
			LastCalculatedAt: &now,
			Status:           entities.StatusError,
			LastError:        &entities.CalcError{Kind: string(expression.ErrTypeMismatch), Message: "bad"},
			ExecutionCount:   3,
			ErrorCount:       1,
			AvgDurationMs:    2.5,
		},
	}})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, 1, m.ID, false)
	require.NoError(t, err)
	rt := RuntimeFromModel(got)
	assert.Equal(t, entities.StatusError, rt.Status)
	require.NotNil(t, rt.CurrentValue)
	assert.Equal(t, 42.0, rt.CurrentValue.Num())
	require.NotNil(t, rt.LastError)
	assert.Equal(t, "type_mismatch", rt.LastError.Kind)
	assert.Equal(t, int64(3), rt.ExecutionCount)

	perf, err := repo.PerformanceStats(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, 2.5, perf[0].AvgDurationMs)
}

func TestExecutionRepo_InsertListPrune(t *testing.T) {
	db := setupTestDB(t)
	repo := NewExecutionRepo(db)
	ctx := context.Background()

	v := expression.Number(1)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	require.NoError(t, repo.InsertBatch(ctx, []entities.Execution{
		{RunID: "r1", TenantID: 1, PointID: 5, Trigger: "periodic", Success: true, Value: &v, ExecutedAt: old},
		{RunID: "r2", TenantID: 1, PointID: 5, Trigger: "manual", Error: &entities.CalcError{Kind: "division_by_zero", Message: "division by zero"}, ExecutedAt: recent},
	}))

	history, err := repo.ListByPoint(ctx, 1, 5, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "r2", history[0].RunID)
	require.NotNil(t, history[0].Error)
	assert.Equal(t, "division_by_zero", history[0].Error.Kind)

	n, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
