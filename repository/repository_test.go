package repository_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/draftline/takeoff-engine/costing"
	"github.com/draftline/takeoff-engine/geometry"
	"github.com/draftline/takeoff-engine/repository"
	"github.com/draftline/takeoff-engine/repository/models"
)

func ptrFloat(v float64) *float64 { return &v }
func ptrUint(v uint) *uint        { return &v }
func ptrInt(v int) *int           { return &v }

// newTestRepoWith opens a per-test in-memory database. The shared cache keeps
// the database alive across the pool's connections.
func newTestRepoWith(t *testing.T, costs repository.CostCalculator) (*repository.Repository, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := repository.New(costs)
	repo.UseDB(db)
	require.NoError(t, repo.Migrate())
	return repo, db
}

func newTestRepo(t *testing.T) (*repository.Repository, *gorm.DB) {
	return newTestRepoWith(t, costing.NewCalculator())
}

// outageCalculator stands in for the pricing collaborator during an outage:
// every Compute call fails until failing is cleared.
type outageCalculator struct {
	failing bool
	calc    repository.CostCalculator
}

func (o *outageCalculator) Compute(m *models.Measurement) (repository.CostBreakdown, error) {
	if o.failing {
		return repository.CostBreakdown{}, errors.New("pricing service unavailable")
	}
	return o.calc.Compute(m)
}

func createDrawing(t *testing.T, db *gorm.DB, width, height int) *models.Drawing {
	t.Helper()
	drawing := models.Drawing{
		Name:        "Test Sheet",
		TilesWidth:  ptrInt(width),
		TilesHeight: ptrInt(height),
	}
	require.NoError(t, db.Create(&drawing).Error)
	return &drawing
}

func createCondition(t *testing.T, db *gorm.DB) *models.TakeoffCondition {
	t.Helper()
	item := models.MaterialItem{Name: "Plasterboard", Unit: "sheet", UnitCost: 5}
	require.NoError(t, db.Create(&item).Error)

	condition := models.TakeoffCondition{
		Name:           "Internal Wall",
		Type:           "linear",
		ProductionRate: ptrFloat(4),
		LabourUnitRate: ptrFloat(60),
		Materials: []models.ConditionMaterial{
			{MaterialItemID: item.ID, QtyPerUnit: 2, WastePercentage: 10},
		},
	}
	require.NoError(t, db.Create(&condition).Error)
	return &condition
}

func linePoints() []geometry.Point {
	return []geometry.Point{{X: 0, Y: 0}, {X: 0.5, Y: 0}}
}

func squarePoints() []geometry.Point {
	return []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
}
