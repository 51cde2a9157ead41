package models

import "time"

// Drawing is one calibratable sheet image. The engine only reads its pixel
// dimensions; rendering, tiling, and file storage live elsewhere.
type Drawing struct {
	ID        uint      `gorm:"column:drawing_id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Rendered dimensions, in pixels. The tile renderer output is preferred;
	// the page preview is the fallback when tiles were never generated.
	TilesWidth   *int `gorm:"column:tiles_width" json:"tiles_width"`
	TilesHeight  *int `gorm:"column:tiles_height" json:"tiles_height"`
	PageWidthPx  *int `gorm:"column:page_width_px" json:"page_width_px"`
	PageHeightPx *int `gorm:"column:page_height_px" json:"page_height_px"`

	ScaleCalibration *ScaleCalibration `gorm:"foreignKey:DrawingID" json:"scale_calibration,omitempty"`
	Measurements     []Measurement     `gorm:"foreignKey:DrawingID" json:"measurements,omitempty"`
}

// PixelSize returns the effective image dimensions: tile-rendered size,
// falling back to the page preview, falling back to 1 so downstream division
// stays defined for drawings with no known size.
func (d *Drawing) PixelSize() (float64, float64) {
	w := 1
	h := 1
	switch {
	case d.TilesWidth != nil && *d.TilesWidth > 0:
		w = *d.TilesWidth
	case d.PageWidthPx != nil && *d.PageWidthPx > 0:
		w = *d.PageWidthPx
	}
	switch {
	case d.TilesHeight != nil && *d.TilesHeight > 0:
		h = *d.TilesHeight
	case d.PageHeightPx != nil && *d.PageHeightPx > 0:
		h = *d.PageHeightPx
	}
	return float64(w), float64(h)
}
