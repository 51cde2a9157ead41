package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/draftline/takeoff-engine/geometry"
	"github.com/draftline/takeoff-engine/takeoff"
)

// PointList stores the ordered, normalized measurement points as a JSON
// column.
type PointList []geometry.Point

func (p PointList) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PointList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	case nil:
		*p = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into PointList", value)
	}
}

// Measurement is a user-drawn polyline, polygon, or point set on a drawing.
// ComputedValue, PerimeterValue, and Unit are derived from the points and the
// drawing's calibration, never hand-edited; for linear/area measurements they
// stay null until the drawing is calibrated. A measurement with a parent is a
// deduction: its quantity and cost are subtracted from the parent's net total
// by read-time aggregation, not stored on the parent row.
type Measurement struct {
	ID        uint         `gorm:"column:measurement_id;primaryKey;autoIncrement" json:"id"`
	DrawingID uint         `gorm:"column:drawing_id;index;not null" json:"drawing_id"`
	Name      string       `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Type      takeoff.Kind `gorm:"column:type;type:varchar(10);not null" json:"type"`
	Color     string       `gorm:"column:color;type:varchar(7);not null" json:"color"`
	Category  *string      `gorm:"column:category;type:varchar(100)" json:"category"`
	Points    PointList    `gorm:"column:points;type:json;not null" json:"points"`

	ComputedValue  *float64 `gorm:"column:computed_value" json:"computed_value"`
	PerimeterValue *float64 `gorm:"column:perimeter_value" json:"perimeter_value"`
	Unit           *string  `gorm:"column:unit;type:varchar(10)" json:"unit"`

	TakeoffConditionID *uint             `gorm:"column:takeoff_condition_id;index" json:"takeoff_condition_id"`
	Condition          *TakeoffCondition `gorm:"foreignKey:TakeoffConditionID" json:"condition,omitempty"`
	BidAreaID          *uint             `gorm:"column:bid_area_id" json:"bid_area_id"`
	Scope              string            `gorm:"column:scope;type:varchar(10);default:'takeoff'" json:"scope"`
	VariationID        *uint             `gorm:"column:variation_id" json:"variation_id"`

	ParentMeasurementID *uint         `gorm:"column:parent_measurement_id;index" json:"parent_measurement_id"`
	Deductions          []Measurement `gorm:"foreignKey:ParentMeasurementID" json:"deductions,omitempty"`

	MaterialCost *float64 `gorm:"column:material_cost" json:"material_cost"`
	LabourCost   *float64 `gorm:"column:labour_cost" json:"labour_cost"`
	TotalCost    *float64 `gorm:"column:total_cost" json:"total_cost"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Read-time fields, never persisted. NetQuantity is the parent's value
	// minus its active deductions; CostError surfaces a partial-success cost
	// refresh to the caller.
	NetQuantity *float64 `gorm:"-" json:"net_quantity,omitempty"`
	CostError   string   `gorm:"-" json:"cost_error,omitempty"`
}

func (Measurement) TableName() string {
	return "drawing_measurements"
}
