package repositories

import (
	"context"
	"testing"
	"time"

	"pulseone/vpengine/internal/models/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlib "gorm.io/gorm"
)

func sampleTemplate(tenantID int64, name string, tags ...string) *entities.FormulaTemplate {
	def := "1000"
	return &entities.FormulaTemplate{
		TenantID:    tenantID,
		Name:        name,
		Description: "power from voltage and current",
		Category:    "electrical",
		Tags:        tags,
		Expression:  "{{v}} * {{i}} / {{scale}}",
		Parameters: []entities.TemplateParameter{
			{Name: "v"}, {Name: "i"}, {Name: "scale", Default: &def},
		},
		DataType: entities.DataTypeNumber,
	}
}

func TestFormulaTemplateRepo_CreateAndGet(t *testing.T) {
	repo := NewFormulaTemplateRepo(setupTestDB(t))
	ctx := context.Background()

	tpl := sampleTemplate(1, "Power", "power", "kw")
	require.NoError(t, repo.Create(ctx, tpl))
	require.NotZero(t, tpl.ID)

	got, err := repo.GetByID(ctx, 1, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"power", "kw"}, got.Tags)
	require.Len(t, got.Parameters, 3)
	require.NotNil(t, got.Parameters[2].Default)
	assert.Equal(t, "1000", *got.Parameters[2].Default)
	assert.False(t, got.IsSystem)

	other, err := repo.GetByID(ctx, 2, tpl.ID)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestFormulaTemplateRepo_ListVisibilityAndFilters(t *testing.T) {
	repo := NewFormulaTemplateRepo(setupTestDB(t))
	ctx := context.Background()

	created, err := repo.EnsureSystem(ctx, *sampleTemplate(5, "System power", "power"))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.EnsureSystem(ctx, *sampleTemplate(5, "System power", "power"))
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, repo.Create(ctx, sampleTemplate(1, "Mine", "kw")))
	require.NoError(t, repo.Create(ctx, sampleTemplate(2, "Theirs", "power")))

	all, err := repo.List(ctx, 1, TemplateFilter{})
	require.NoError(t, err)
	names := []string{}
	for _, tpl := range all {
		names = append(names, tpl.Name)
	}
	assert.ElementsMatch(t, []string{"System power", "Mine"}, names)

	byTag, err := repo.List(ctx, 1, TemplateFilter{Tag: "power"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "System power", byTag[0].Name)
	assert.True(t, byTag[0].IsSystem)
	assert.Equal(t, entities.SystemTenantID, byTag[0].TenantID)

	bySearch, err := repo.List(ctx, 2, TemplateFilter{Search: "THEIR"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "Theirs", bySearch[0].Name)
}

func TestFormulaTemplateRepo_SystemRowsAreReadOnly(t *testing.T) {
	repo := NewFormulaTemplateRepo(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.EnsureSystem(ctx, *sampleTemplate(0, "System power"))
	require.NoError(t, err)
	list, err := repo.List(ctx, 0, TemplateFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	sys := list[0]

	sys.Name = "Renamed"
	assert.ErrorIs(t, repo.Update(ctx, &sys), gormlib.ErrRecordNotFound)
	deleted, err := repo.Delete(ctx, 0, sys.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	mine := sampleTemplate(1, "Mine")
	require.NoError(t, repo.Create(ctx, mine))
	mine.Expression = "{{v}} * {{i}}"
	mine.Parameters = mine.Parameters[:2]
	require.NoError(t, repo.Update(ctx, mine))
	got, err := repo.GetByID(ctx, 1, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, "{{v}} * {{i}}", got.Expression)
	assert.Len(t, got.Parameters, 2)

	taken, err := repo.NameTaken(ctx, 1, " mine ", 0)
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = repo.NameTaken(ctx, 1, "mine", mine.ID)
	require.NoError(t, err)
	assert.False(t, taken)

	deleted, err = repo.Delete(ctx, 1, mine.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	gone, err := repo.GetByID(ctx, 1, mine.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestFormulaTemplateRepo_RecordUsage(t *testing.T) {
	repo := NewFormulaTemplateRepo(setupTestDB(t))
	ctx := context.Background()

	tpl := sampleTemplate(1, "Power")
	require.NoError(t, repo.Create(ctx, tpl))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordUsage(ctx, 1, tpl.ID, 11, at))
	require.NoError(t, repo.RecordUsage(ctx, 1, tpl.ID, 12, at.Add(time.Minute)))
	require.NoError(t, repo.RecordUsage(ctx, 2, tpl.ID, 40, at.Add(2*time.Minute)))

	got, err := repo.GetByID(ctx, 1, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.UsageCount)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, got.LastUsedAt.Equal(at.Add(2*time.Minute)))

	ids, err := repo.UsedBy(ctx, 1, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, ids)
}
