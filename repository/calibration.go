package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/draftline/takeoff-engine/repository/models"
	"github.com/draftline/takeoff-engine/takeoff"
)

// GetCalibration returns the drawing's calibration, or nil when the drawing
// is uncalibrated.
func (r *Repository) GetCalibration(drawingID uint) (*models.ScaleCalibration, *Error) {
	if _, repoErr := r.findDrawing(r.db, drawingID); repoErr != nil {
		return nil, repoErr
	}
	var cal models.ScaleCalibration
	err := r.db.First(&cal, "drawing_id = ?", drawingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapDBError(err)
	}
	return &cal, nil
}

// SetCalibration computes the pixels-per-unit scale from the given input,
// upserts the drawing's single calibration row, and recomputes every
// measurement of the drawing. Upsert and cascade run in one transaction so no
// reader observes a new calibration paired with stale values. Returns the
// stored calibration and the refreshed top-level measurement list.
func (r *Repository) SetCalibration(drawingID uint, in takeoff.CalibrationInput, createdBy *uint) (*models.ScaleCalibration, []models.Measurement, *Error) {
	drawing, repoErr := r.findDrawing(r.db, drawingID)
	if repoErr != nil {
		return nil, nil, repoErr
	}
	imgW, imgH := drawing.PixelSize()

	ppu, err := takeoff.ComputePixelsPerUnit(in, imgW, imgH)
	if err != nil {
		return nil, nil, wrapDomainError(err)
	}

	var cal models.ScaleCalibration
	txErr := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&cal, "drawing_id = ?", drawingID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			cal = models.ScaleCalibration{DrawingID: drawingID}
		}
		applyCalibrationInput(&cal, in, ppu, createdBy)
		if err := tx.Save(&cal).Error; err != nil {
			return err
		}
		scale := &takeoff.Scale{PixelsPerUnit: ppu, Unit: in.Unit}
		return r.recomputeDrawing(tx, drawingID, scale, imgW, imgH)
	})
	if txErr != nil {
		return nil, nil, wrapDBError(txErr)
	}

	measurements, repoErr := r.ListMeasurements(drawingID)
	if repoErr != nil {
		return nil, nil, repoErr
	}
	return &cal, measurements, nil
}

// DeleteCalibration removes the calibration row and nulls the derived fields
// of every non-count measurement. Count values are calibration-independent
// and keep their value. Deleting an absent calibration is a no-op.
func (r *Repository) DeleteCalibration(drawingID uint) *Error {
	if _, repoErr := r.findDrawing(r.db, drawingID); repoErr != nil {
		return repoErr
	}
	txErr := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("drawing_id = ?", drawingID).Delete(&models.ScaleCalibration{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Measurement{}).
			Where("drawing_id = ? AND type <> ?", drawingID, takeoff.KindCount).
			Updates(map[string]interface{}{
				"computed_value":  nil,
				"perimeter_value": nil,
				"unit":            nil,
			}).Error
	})
	if txErr != nil {
		return wrapDBError(txErr)
	}
	return nil
}

func applyCalibrationInput(cal *models.ScaleCalibration, in takeoff.CalibrationInput, ppu float64, createdBy *uint) {
	cal.Method = string(in.Method)
	cal.Unit = in.Unit
	cal.PixelsPerUnit = ppu
	cal.CreatedBy = createdBy
	cal.PointAX, cal.PointAY = nil, nil
	cal.PointBX, cal.PointBY = nil, nil
	cal.RealDistance = nil
	cal.PaperSize, cal.DrawingScale = nil, nil

	switch in.Method {
	case takeoff.MethodManual:
		ax, ay := in.PointA.X, in.PointA.Y
		bx, by := in.PointB.X, in.PointB.Y
		dist := in.RealDistance
		cal.PointAX, cal.PointAY = &ax, &ay
		cal.PointBX, cal.PointBY = &bx, &by
		cal.RealDistance = &dist
	case takeoff.MethodPreset:
		size, scale := in.PaperSize, in.DrawingScale
		cal.PaperSize = &size
		cal.DrawingScale = &scale
	}
}

// recomputeDrawing re-derives value/perimeter/unit for every active non-count
// measurement of the drawing, in bounded batches. The formulas are pure and
// idempotent, so re-running after a partial failure is safe; a failing row is
// logged and skipped rather than aborting the batch.
func (r *Repository) recomputeDrawing(tx *gorm.DB, drawingID uint, scale *takeoff.Scale, imgW, imgH float64) error {
	var batch []models.Measurement
	return tx.
		Where("drawing_id = ? AND type <> ?", drawingID, takeoff.KindCount).
		FindInBatches(&batch, recomputeBatchSize, func(batchTx *gorm.DB, _ int) error {
			for i := range batch {
				m := &batch[i]
				quantity, err := takeoff.Compute(m.Type, m.Points, scale, imgW, imgH)
				if err != nil {
					r.log.WithField("measurement_id", m.ID).Warnf("recompute skipped: %v", err)
					continue
				}
				updates := map[string]interface{}{
					"computed_value":  quantity.Value,
					"perimeter_value": quantity.Perimeter,
					"unit":            quantity.Unit,
				}
				if err := batchTx.Session(&gorm.Session{NewDB: true}).
					Model(&models.Measurement{}).
					Where("measurement_id = ?", m.ID).
					Updates(updates).Error; err != nil {
					r.log.WithField("measurement_id", m.ID).Warnf("recompute write failed: %v", err)
				}
			}
			return nil
		}).Error
}
