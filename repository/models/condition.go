package models

import "time"

// TakeoffCondition is a cost-rate definition assignable to measurements: a
// labour production rate plus a bill of material lines. The cost collaborator
// turns a measurement's computed quantity into money through these rates.
type TakeoffCondition struct {
	ID         uint    `gorm:"column:takeoff_condition_id;primaryKey;autoIncrement" json:"id"`
	LocationID *uint   `gorm:"column:location_id;index" json:"location_id"`
	Name       string  `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Type       string  `gorm:"column:type;type:varchar(10)" json:"type"`
	Color      *string `gorm:"column:color;type:varchar(7)" json:"color"`

	// Labour: quantity units produced per hour, and the hourly rate. The
	// manual rate overrides the templated unit rate when both are set.
	ProductionRate   *float64 `gorm:"column:production_rate" json:"production_rate"`
	LabourUnitRate   *float64 `gorm:"column:labour_unit_rate" json:"labour_unit_rate"`
	ManualLabourRate *float64 `gorm:"column:manual_labour_rate" json:"manual_labour_rate"`

	Materials []ConditionMaterial `gorm:"foreignKey:TakeoffConditionID" json:"materials,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TakeoffCondition) TableName() string {
	return "takeoff_conditions"
}

// EffectiveLabourRate is the hourly rate used for costing.
func (c *TakeoffCondition) EffectiveLabourRate() float64 {
	if c.ManualLabourRate != nil && *c.ManualLabourRate > 0 {
		return *c.ManualLabourRate
	}
	if c.LabourUnitRate != nil && *c.LabourUnitRate > 0 {
		return *c.LabourUnitRate
	}
	return 0
}

// ConditionMaterial is one material line of a condition: how much of a
// catalog item goes into one quantity unit, plus a waste allowance.
type ConditionMaterial struct {
	ID                 uint          `gorm:"column:condition_material_id;primaryKey;autoIncrement" json:"id"`
	TakeoffConditionID uint          `gorm:"column:takeoff_condition_id;index;not null" json:"takeoff_condition_id"`
	MaterialItemID     uint          `gorm:"column:material_item_id;not null" json:"material_item_id"`
	MaterialItem       *MaterialItem `gorm:"foreignKey:MaterialItemID" json:"material_item,omitempty"`
	QtyPerUnit         float64       `gorm:"column:qty_per_unit;not null" json:"qty_per_unit"`
	WastePercentage    float64       `gorm:"column:waste_percentage;default:0" json:"waste_percentage"`
}

func (ConditionMaterial) TableName() string {
	return "takeoff_condition_materials"
}

// MaterialItem is a priced catalog entry. The base unit cost applies
// everywhere unless a location carries a price override.
type MaterialItem struct {
	ID       uint    `gorm:"column:material_item_id;primaryKey;autoIncrement" json:"id"`
	Name     string  `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Unit     string  `gorm:"column:unit;type:varchar(20)" json:"unit"`
	UnitCost float64 `gorm:"column:unit_cost;not null" json:"unit_cost"`

	LocationPrices []MaterialLocationPrice `gorm:"foreignKey:MaterialItemID" json:"location_prices,omitempty"`
}

func (MaterialItem) TableName() string {
	return "material_items"
}

// UnitCostAt resolves the unit cost for a location. A location-specific
// override wins; a location row without an override still uses the base cost.
func (i *MaterialItem) UnitCostAt(locationID *uint) float64 {
	if locationID != nil {
		for _, p := range i.LocationPrices {
			if p.LocationID == *locationID && p.UnitCostOverride != nil {
				return *p.UnitCostOverride
			}
		}
	}
	return i.UnitCost
}

// MaterialLocationPrice is a per-location price override for a catalog item.
type MaterialLocationPrice struct {
	ID               uint     `gorm:"column:material_location_price_id;primaryKey;autoIncrement" json:"id"`
	MaterialItemID   uint     `gorm:"column:material_item_id;index;not null" json:"material_item_id"`
	LocationID       uint     `gorm:"column:location_id;index;not null" json:"location_id"`
	UnitCostOverride *float64 `gorm:"column:unit_cost_override" json:"unit_cost_override"`
}

func (MaterialLocationPrice) TableName() string {
	return "material_item_location_prices"
}
