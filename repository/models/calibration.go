package models

import "time"

// ScaleCalibration maps pixel distance on a drawing image to real-world
// distance. At most one row exists per drawing; a new calibration replaces
// the old one. PixelsPerUnit is always strictly positive: inputs that would
// compute a zero or negative scale are rejected before a row is written.
type ScaleCalibration struct {
	ID        uint `gorm:"column:calibration_id;primaryKey;autoIncrement" json:"id"`
	DrawingID uint `gorm:"column:drawing_id;uniqueIndex;not null" json:"drawing_id"`

	Method string `gorm:"column:method;type:varchar(10);not null" json:"method"`

	// Manual method inputs: the reference segment endpoints (normalized) and
	// its real-world length.
	PointAX      *float64 `gorm:"column:point_a_x" json:"point_a_x"`
	PointAY      *float64 `gorm:"column:point_a_y" json:"point_a_y"`
	PointBX      *float64 `gorm:"column:point_b_x" json:"point_b_x"`
	PointBY      *float64 `gorm:"column:point_b_y" json:"point_b_y"`
	RealDistance *float64 `gorm:"column:real_distance" json:"real_distance"`

	// Preset method inputs.
	PaperSize    *string `gorm:"column:paper_size;type:varchar(5)" json:"paper_size"`
	DrawingScale *string `gorm:"column:drawing_scale;type:varchar(20)" json:"drawing_scale"`

	Unit          string  `gorm:"column:unit;type:varchar(5);not null" json:"unit"`
	PixelsPerUnit float64 `gorm:"column:pixels_per_unit;not null" json:"pixels_per_unit"`
	CreatedBy     *uint   `gorm:"column:created_by" json:"created_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ScaleCalibration) TableName() string {
	return "drawing_scale_calibrations"
}
