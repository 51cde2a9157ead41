// Package costing implements the cost collaborator: it turns a measurement's
// computed quantity into material and labour cost through the rates of its
// assigned takeoff condition.
package costing

import (
	"math"

	"github.com/pkg/errors"

	"github.com/draftline/takeoff-engine/repository"
	"github.com/draftline/takeoff-engine/repository/models"
)

// Calculator computes costs from a condition's material lines and labour
// rates.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Compute returns the cost breakdown for a measurement. A measurement without
// a condition or without a computed quantity costs nothing. Results are
// rounded to cents.
func (c *Calculator) Compute(m *models.Measurement) (repository.CostBreakdown, error) {
	if m.Condition == nil || m.ComputedValue == nil {
		return repository.CostBreakdown{}, nil
	}
	if m.TakeoffConditionID != nil && m.Condition.ID != *m.TakeoffConditionID {
		return repository.CostBreakdown{}, errors.Errorf(
			"measurement %d carries condition %d but %d was loaded",
			m.ID, *m.TakeoffConditionID, m.Condition.ID)
	}

	material := materialCost(m.Condition, *m.ComputedValue)
	labour := labourCost(m.Condition, *m.ComputedValue)

	return repository.CostBreakdown{
		MaterialCost: round2(material),
		LabourCost:   round2(labour),
		TotalCost:    round2(material + labour),
	}, nil
}

// materialCost sums the condition's material lines:
//
//	effective_qty = qty_per_unit * (1 + waste/100) * quantity
//	line_cost     = effective_qty * unit_cost
//
// The unit cost is the item's price at the condition's location when an
// override exists there, otherwise the base catalog price.
func materialCost(condition *models.TakeoffCondition, quantity float64) float64 {
	total := 0.0
	for i := range condition.Materials {
		line := &condition.Materials[i]
		if line.MaterialItem == nil {
			continue
		}
		effectiveQty := line.QtyPerUnit * (1 + line.WastePercentage/100) * quantity
		total += effectiveQty * line.MaterialItem.UnitCostAt(condition.LocationID)
	}
	return total
}

// labourCost divides the quantity by the production rate to get hours, then
// applies the effective hourly rate. Either rate missing or non-positive
// means no labour component.
func labourCost(condition *models.TakeoffCondition, quantity float64) float64 {
	if condition.ProductionRate == nil || *condition.ProductionRate <= 0 {
		return 0
	}
	rate := condition.EffectiveLabourRate()
	if rate <= 0 {
		return 0
	}
	hours := quantity / *condition.ProductionRate
	return hours * rate
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
