package repository_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/draftline/takeoff-engine/costing"
	"github.com/draftline/takeoff-engine/geometry"
	"github.com/draftline/takeoff-engine/repository"
	"github.com/draftline/takeoff-engine/repository/models"
	"github.com/draftline/takeoff-engine/takeoff"
)

// calibratedDrawing sets up a 1000x1000 drawing at 100 px per metre.
func calibratedDrawing(t *testing.T, repo *repository.Repository, db *gorm.DB) *models.Drawing {
	t.Helper()
	drawing := createDrawing(t, db, 1000, 1000)
	_, _, repoErr := repo.SetCalibration(drawing.ID, takeoff.CalibrationInput{
		Method:       takeoff.MethodManual,
		Unit:         "m",
		PointA:       geometry.Point{X: 0, Y: 0},
		PointB:       geometry.Point{X: 1, Y: 0},
		RealDistance: 10,
	}, nil)
	require.Nil(t, repoErr)
	return drawing
}

func TestCreateMeasurementComputesByKind(t *testing.T) {
	repo, db := newTestRepo(t)
	drawing := calibratedDrawing(t, repo, db)

	t.Run("area", func(t *testing.T) {
		m, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
			Name: "Slab", Type: takeoff.KindArea, Color: "#0000ff", Points: squarePoints(),
		})
		require.Nil(t, repoErr)
		require.NotNil(t, m.ComputedValue)
		assert.InDelta(t, 100.0, *m.ComputedValue, 1e-9)
		require.NotNil(t, m.PerimeterValue)
		assert.InDelta(t, 40.0, *m.PerimeterValue, 1e-9)
		require.NotNil(t, m.Unit)
		assert.Equal(t, "sq m", *m.Unit)
		assert.Equal(t, "takeoff", m.Scope)
	})

	t.Run("linear", func(t *testing.T) {
		m, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
			Name: "Skirting", Type: takeoff.KindLinear, Color: "#0000ff", Points: linePoints(),
		})
		require.Nil(t, repoErr)
		require.NotNil(t, m.ComputedValue)
		assert.InDelta(t, 5.0, *m.ComputedValue, 1e-9)
		assert.Nil(t, m.PerimeterValue)
	})

	t.Run("count", func(t *testing.T) {
		m, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
			Name: "Columns", Type: takeoff.KindCount, Color: "#0000ff",
			Points: []geometry.Point{{X: 0.5, Y: 0.5}},
		})
		require.Nil(t, repoErr)
		require.NotNil(t, m.ComputedValue)
		assert.Equal(t, 1.0, *m.ComputedValue)
		require.NotNil(t, m.Unit)
		assert.Equal(t, "ea", *m.Unit)
	})
}

func TestCreateMeasurementValidation(t *testing.T) {
	repo, db := newTestRepo(t)
	drawing := createDrawing(t, db, 1000, 1000)

	tests := []struct {
		name  string
		in    repository.CreateMeasurementInput
		kind  repository.ErrorKind
		field string
	}{
		{
			name:  "unknown kind",
			in:    repository.CreateMeasurementInput{Name: "X", Type: "volume", Color: "#ff0000", Points: linePoints()},
			kind:  repository.ErrValidation,
			field: "type",
		},
		{
			name:  "bad color",
			in:    repository.CreateMeasurementInput{Name: "X", Type: takeoff.KindLinear, Color: "red", Points: linePoints()},
			kind:  repository.ErrValidation,
			field: "color",
		},
		{
			name:  "missing name",
			in:    repository.CreateMeasurementInput{Type: takeoff.KindLinear, Color: "#ff0000", Points: linePoints()},
			kind:  repository.ErrValidation,
			field: "name",
		},
		{
			name: "too few points for an area",
			in: repository.CreateMeasurementInput{
				Name: "X", Type: takeoff.KindArea, Color: "#ff0000", Points: linePoints(),
			},
			kind:  repository.ErrValidation,
			field: "points",
		},
		{
			name: "unknown condition",
			in: repository.CreateMeasurementInput{
				Name: "X", Type: takeoff.KindLinear, Color: "#ff0000", Points: linePoints(),
				TakeoffConditionID: ptrUint(999),
			},
			kind:  repository.ErrValidation,
			field: "takeoff_condition_id",
		},
		{
			name: "unknown scope",
			in: repository.CreateMeasurementInput{
				Name: "X", Type: takeoff.KindLinear, Color: "#ff0000", Points: linePoints(),
				Scope: "estimate",
			},
			kind:  repository.ErrValidation,
			field: "scope",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, repoErr := repo.CreateMeasurement(drawing.ID, tt.in)
			require.NotNil(t, repoErr)
			assert.Equal(t, tt.kind, repoErr.Kind)
			assert.Equal(t, tt.field, repoErr.Field)
		})
	}

	t.Run("unknown drawing", func(t *testing.T) {
		_, repoErr := repo.CreateMeasurement(999, repository.CreateMeasurementInput{
			Name: "X", Type: takeoff.KindLinear, Color: "#ff0000", Points: linePoints(),
		})
		require.NotNil(t, repoErr)
		assert.Equal(t, repository.ErrNotFound, repoErr.Kind)
	})
}

func TestDeductionHierarchy(t *testing.T) {
	repo, db := newTestRepo(t)
	drawing := calibratedDrawing(t, repo, db)

	parent, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Slab", Type: takeoff.KindArea, Color: "#0000ff", Points: squarePoints(),
	})
	require.Nil(t, repoErr)

	// 200x200 px opening → 4 square metres.
	opening := []geometry.Point{{X: 0, Y: 0}, {X: 0.2, Y: 0}, {X: 0.2, Y: 0.2}, {X: 0, Y: 0.2}}
	child, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Stair Void", Type: takeoff.KindArea, Color: "#0000ff", Points: opening,
		ParentMeasurementID: &parent.ID,
	})
	require.Nil(t, repoErr)
	require.NotNil(t, child.ComputedValue)
	assert.InDelta(t, 4.0, *child.ComputedValue, 1e-9)

	t.Run("deductions never appear top-level", func(t *testing.T) {
		list, repoErr := repo.ListMeasurements(drawing.ID)
		require.Nil(t, repoErr)
		require.Len(t, list, 1)
		assert.Equal(t, parent.ID, list[0].ID)
		require.Len(t, list[0].Deductions, 1)
		assert.Equal(t, child.ID, list[0].Deductions[0].ID)

		require.NotNil(t, list[0].NetQuantity)
		assert.InDelta(t, 96.0, *list[0].NetQuantity, 1e-9)
		require.NotNil(t, list[0].ComputedValue)
		assert.InDelta(t, 100.0, *list[0].ComputedValue, 1e-9, "gross value stays untouched")
	})

	t.Run("missing parent", func(t *testing.T) {
		_, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
			Name: "Void", Type: takeoff.KindArea, Color: "#0000ff", Points: opening,
			ParentMeasurementID: ptrUint(999),
		})
		require.NotNil(t, repoErr)
		assert.Equal(t, repository.ErrNotFound, repoErr.Kind)
	})

	t.Run("count parents cannot carry deductions", func(t *testing.T) {
		count, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
			Name: "Doors", Type: takeoff.KindCount, Color: "#00ff00",
			Points: []geometry.Point{{X: 0.5, Y: 0.5}},
		})
		require.Nil(t, repoErr)

		_, repoErr = repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
			Name: "Void", Type: takeoff.KindArea, Color: "#0000ff", Points: opening,
			ParentMeasurementID: &count.ID,
		})
		require.NotNil(t, repoErr)
		assert.Equal(t, repository.ErrValidation, repoErr.Kind)
		assert.Equal(t, "parent_measurement_id", repoErr.Field)
	})

	t.Run("hierarchy depth is one level", func(t *testing.T) {
		_, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
			Name: "Nested Void", Type: takeoff.KindArea, Color: "#0000ff", Points: opening,
			ParentMeasurementID: &child.ID,
		})
		require.NotNil(t, repoErr)
		assert.Equal(t, repository.ErrConflict, repoErr.Kind)
	})

	t.Run("parent must share the drawing", func(t *testing.T) {
		other := createDrawing(t, db, 1000, 1000)
		_, repoErr := repo.CreateMeasurement(other.ID, repository.CreateMeasurementInput{
			Name: "Void", Type: takeoff.KindArea, Color: "#0000ff", Points: opening,
			ParentMeasurementID: &parent.ID,
		})
		require.NotNil(t, repoErr)
		assert.Equal(t, repository.ErrValidation, repoErr.Kind)
	})
}

func TestUpdateMeasurementRecomputesOnNewPoints(t *testing.T) {
	repo, db := newTestRepo(t)
	drawing := calibratedDrawing(t, repo, db)

	m, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Wall", Type: takeoff.KindLinear, Color: "#ff0000", Points: linePoints(),
	})
	require.Nil(t, repoErr)
	require.NotNil(t, m.ComputedValue)
	assert.InDelta(t, 5.0, *m.ComputedValue, 1e-9)

	longer := []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 0}}
	name := "Long Wall"
	updated, repoErr := repo.UpdateMeasurement(drawing.ID, m.ID, repository.UpdateMeasurementInput{
		Name:   &name,
		Points: longer,
	})
	require.Nil(t, repoErr)
	assert.Equal(t, "Long Wall", updated.Name)
	require.NotNil(t, updated.ComputedValue)
	assert.InDelta(t, 10.0, *updated.ComputedValue, 1e-9)

	t.Run("unchanged fields stay put", func(t *testing.T) {
		color := "#00ff00"
		again, repoErr := repo.UpdateMeasurement(drawing.ID, m.ID, repository.UpdateMeasurementInput{
			Color: &color,
		})
		require.Nil(t, repoErr)
		assert.Equal(t, "Long Wall", again.Name)
		assert.Equal(t, "#00ff00", again.Color)
		require.NotNil(t, again.ComputedValue)
		assert.InDelta(t, 10.0, *again.ComputedValue, 1e-9)
	})

	t.Run("unknown measurement", func(t *testing.T) {
		_, repoErr := repo.UpdateMeasurement(drawing.ID, 999, repository.UpdateMeasurementInput{})
		require.NotNil(t, repoErr)
		assert.Equal(t, repository.ErrNotFound, repoErr.Kind)
	})
}

func TestMeasurementCosting(t *testing.T) {
	repo, db := newTestRepo(t)
	drawing := calibratedDrawing(t, repo, db)
	condition := createCondition(t, db)

	// 5 m of wall: material 2 * 1.10 * 5 * 5 = 27.5, labour 5/4 h at 60 = 75.
	m, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Wall", Type: takeoff.KindLinear, Color: "#ff0000", Points: linePoints(),
		TakeoffConditionID: &condition.ID,
	})
	require.Nil(t, repoErr)
	assert.Empty(t, m.CostError)
	require.NotNil(t, m.MaterialCost)
	assert.InDelta(t, 27.5, *m.MaterialCost, 1e-9)
	require.NotNil(t, m.LabourCost)
	assert.InDelta(t, 75.0, *m.LabourCost, 1e-9)
	require.NotNil(t, m.TotalCost)
	assert.InDelta(t, 102.5, *m.TotalCost, 1e-9)

	t.Run("costs are persisted", func(t *testing.T) {
		var reloaded models.Measurement
		require.NoError(t, db.First(&reloaded, "measurement_id = ?", m.ID).Error)
		require.NotNil(t, reloaded.TotalCost)
		assert.InDelta(t, 102.5, *reloaded.TotalCost, 1e-9)
	})

	t.Run("recalculate is idempotent", func(t *testing.T) {
		list, repoErr := repo.RecalculateCosts(drawing.ID)
		require.Nil(t, repoErr)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].TotalCost)
		assert.InDelta(t, 102.5, *list[0].TotalCost, 1e-9)
	})

	t.Run("unassigning the condition clears costs", func(t *testing.T) {
		updated, repoErr := repo.UpdateMeasurement(drawing.ID, m.ID, repository.UpdateMeasurementInput{
			TakeoffConditionID: repository.OptionalUint{Set: true, Value: nil},
		})
		require.Nil(t, repoErr)
		assert.Nil(t, updated.TakeoffConditionID)
		assert.Nil(t, updated.MaterialCost)
		assert.Nil(t, updated.LabourCost)
		assert.Nil(t, updated.TotalCost)
	})

	t.Run("reassigning the condition restores costs", func(t *testing.T) {
		updated, repoErr := repo.UpdateMeasurement(drawing.ID, m.ID, repository.UpdateMeasurementInput{
			TakeoffConditionID: repository.OptionalUint{Set: true, Value: &condition.ID},
		})
		require.Nil(t, repoErr)
		require.NotNil(t, updated.TotalCost)
		assert.InDelta(t, 102.5, *updated.TotalCost, 1e-9)
	})
}

func TestMeasurementCostingUsesLocationPricing(t *testing.T) {
	repo, db := newTestRepo(t)
	drawing := calibratedDrawing(t, repo, db)

	item := models.MaterialItem{
		Name: "Plasterboard", Unit: "sheet", UnitCost: 5,
		LocationPrices: []models.MaterialLocationPrice{
			{LocationID: 7, UnitCostOverride: ptrFloat(8)},
		},
	}
	require.NoError(t, db.Create(&item).Error)
	condition := models.TakeoffCondition{
		Name: "Site Wall", Type: "linear",
		LocationID:     ptrUint(7),
		ProductionRate: ptrFloat(4),
		LabourUnitRate: ptrFloat(60),
		Materials: []models.ConditionMaterial{
			{MaterialItemID: item.ID, QtyPerUnit: 2, WastePercentage: 10},
		},
	}
	require.NoError(t, db.Create(&condition).Error)

	// 5 m of wall priced at the site override: 2 * 1.10 * 5 * 8 = 44.
	m, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Wall", Type: takeoff.KindLinear, Color: "#ff0000", Points: linePoints(),
		TakeoffConditionID: &condition.ID,
	})
	require.Nil(t, repoErr)
	assert.Empty(t, m.CostError)
	require.NotNil(t, m.MaterialCost)
	assert.InDelta(t, 44.0, *m.MaterialCost, 1e-9)

	t.Run("recalculation resolves the same price", func(t *testing.T) {
		list, repoErr := repo.RecalculateCosts(drawing.ID)
		require.Nil(t, repoErr)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].MaterialCost)
		assert.InDelta(t, 44.0, *list[0].MaterialCost, 1e-9)
	})
}

func TestCostCollaboratorFailureKeepsGeometry(t *testing.T) {
	outage := &outageCalculator{failing: true, calc: costing.NewCalculator()}
	repo, db := newTestRepoWith(t, outage)
	drawing := calibratedDrawing(t, repo, db)
	condition := createCondition(t, db)

	m, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Wall", Type: takeoff.KindLinear, Color: "#ff0000", Points: linePoints(),
		TakeoffConditionID: &condition.ID,
	})
	require.Nil(t, repoErr, "a cost outage must not fail the create")
	require.NotNil(t, m.ComputedValue)
	assert.InDelta(t, 5.0, *m.ComputedValue, 1e-9)
	assert.NotEmpty(t, m.CostError)
	assert.Nil(t, m.TotalCost)

	var stored models.Measurement
	require.NoError(t, db.First(&stored, "measurement_id = ?", m.ID).Error)
	require.NotNil(t, stored.ComputedValue, "geometry persists through the outage")
	assert.Nil(t, stored.TotalCost)

	t.Run("recalculation repairs costs once the collaborator recovers", func(t *testing.T) {
		outage.failing = false
		list, repoErr := repo.RecalculateCosts(drawing.ID)
		require.Nil(t, repoErr)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].TotalCost)
		assert.InDelta(t, 102.5, *list[0].TotalCost, 1e-9)
	})

	t.Run("later outage leaves the repaired costs in place", func(t *testing.T) {
		outage.failing = true
		list, repoErr := repo.RecalculateCosts(drawing.ID)
		require.Nil(t, repoErr)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].TotalCost)
		assert.InDelta(t, 102.5, *list[0].TotalCost, 1e-9)
	})
}

func TestDeleteAndRestoreCascade(t *testing.T) {
	repo, db := newTestRepo(t)
	drawing := calibratedDrawing(t, repo, db)

	parent, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Slab", Type: takeoff.KindArea, Color: "#0000ff", Points: squarePoints(),
	})
	require.Nil(t, repoErr)

	opening := []geometry.Point{{X: 0, Y: 0}, {X: 0.2, Y: 0}, {X: 0.2, Y: 0.2}, {X: 0, Y: 0.2}}
	earlier, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Duct Void", Type: takeoff.KindArea, Color: "#0000ff", Points: opening,
		ParentMeasurementID: &parent.ID,
	})
	require.Nil(t, repoErr)
	cascaded, repoErr := repo.CreateMeasurement(drawing.ID, repository.CreateMeasurementInput{
		Name: "Stair Void", Type: takeoff.KindArea, Color: "#0000ff", Points: opening,
		ParentMeasurementID: &parent.ID,
	})
	require.Nil(t, repoErr)

	// Delete one deduction on its own, then the parent. The parent delete
	// cascades only to the still-active child.
	_, repoErr = repo.DeleteMeasurement(drawing.ID, earlier.ID)
	require.Nil(t, repoErr)

	deleted, repoErr := repo.DeleteMeasurement(drawing.ID, parent.ID)
	require.Nil(t, repoErr)
	assert.True(t, deleted.DeletedAt.Valid)

	list, repoErr := repo.ListMeasurements(drawing.ID)
	require.Nil(t, repoErr)
	assert.Empty(t, list)

	t.Run("deleted measurements reject further deletes", func(t *testing.T) {
		_, repoErr := repo.DeleteMeasurement(drawing.ID, parent.ID)
		require.NotNil(t, repoErr)
		assert.Equal(t, repository.ErrNotFound, repoErr.Kind)
	})

	restored, repoErr := repo.RestoreMeasurement(drawing.ID, parent.ID)
	require.Nil(t, repoErr)
	assert.False(t, restored.DeletedAt.Valid)

	// The cascaded child comes back with the parent; the independently
	// deleted one stays gone.
	require.Len(t, restored.Deductions, 1)
	assert.Equal(t, cascaded.ID, restored.Deductions[0].ID)

	var gone models.Measurement
	require.NoError(t, db.Unscoped().First(&gone, "measurement_id = ?", earlier.ID).Error)
	assert.True(t, gone.DeletedAt.Valid)

	t.Run("restore is idempotent", func(t *testing.T) {
		again, repoErr := repo.RestoreMeasurement(drawing.ID, parent.ID)
		require.Nil(t, repoErr)
		assert.False(t, again.DeletedAt.Valid)
	})
}
