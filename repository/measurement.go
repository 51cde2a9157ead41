package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/draftline/takeoff-engine/geometry"
	"github.com/draftline/takeoff-engine/repository/models"
	"github.com/draftline/takeoff-engine/takeoff"
)

// CreateMeasurementInput carries a measurement create request.
type CreateMeasurementInput struct {
	Name                string
	Type                takeoff.Kind
	Color               string
	Category            *string
	Points              []geometry.Point
	TakeoffConditionID  *uint
	BidAreaID           *uint
	ParentMeasurementID *uint
	Scope               string
	VariationID         *uint
}

// OptionalUint distinguishes "not provided" from "provided as null" in update
// requests. Set reports presence; a nil Value clears the field.
type OptionalUint struct {
	Set   bool
	Value *uint
}

// UpdateMeasurementInput carries a measurement update. Nil pointers and a
// nil Points slice mean "leave unchanged". The measurement kind is fixed at
// creation and cannot be updated.
type UpdateMeasurementInput struct {
	Name               *string
	Color              *string
	Category           *string
	Points             []geometry.Point
	TakeoffConditionID OptionalUint
	BidAreaID          OptionalUint
}

func validateCommonFields(name, color string, category *string) *Error {
	if name == "" || len(name) > 255 {
		return &Error{Kind: ErrValidation, Field: "name", Message: "name is required and must be at most 255 characters"}
	}
	if !takeoff.ValidColor(color) {
		return &Error{Kind: ErrValidation, Field: "color", Message: "color must be a #RRGGBB hex string"}
	}
	if category != nil && len(*category) > 100 {
		return &Error{Kind: ErrValidation, Field: "category", Message: "category must be at most 100 characters"}
	}
	return nil
}

// validateParent enforces the one-level hierarchy: the parent must exist on
// the same drawing, be of a deductible kind, and have no parent of its own.
// Runs inside the transaction that inserts the child so the check and the
// insert cannot interleave with a conflicting parent edit.
func validateParent(tx *gorm.DB, drawingID, parentID uint) *Error {
	var parent models.Measurement
	if err := tx.First(&parent, "measurement_id = ?", parentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Error{
				Kind:    ErrNotFound,
				Field:   "parent_measurement_id",
				Message: fmt.Sprintf("parent measurement %d does not exist", parentID),
			}
		}
		return wrapDBError(err)
	}
	if parent.DrawingID != drawingID {
		return &Error{
			Kind:    ErrValidation,
			Field:   "parent_measurement_id",
			Message: "parent measurement belongs to a different drawing",
		}
	}
	if !parent.Type.Deductible() {
		return &Error{
			Kind:    ErrValidation,
			Field:   "parent_measurement_id",
			Message: fmt.Sprintf("%s measurements cannot have deductions", parent.Type),
		}
	}
	if parent.ParentMeasurementID != nil {
		return &Error{
			Kind:    ErrConflict,
			Field:   "parent_measurement_id",
			Message: "parent is itself a deduction, hierarchy depth is limited to one level",
		}
	}
	return nil
}

// currentScale loads the drawing's calibration as a compute scale, or nil
// when uncalibrated.
func currentScale(tx *gorm.DB, drawingID uint) (*takeoff.Scale, *Error) {
	var cal models.ScaleCalibration
	if err := tx.First(&cal, "drawing_id = ?", drawingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapDBError(err)
	}
	return &takeoff.Scale{PixelsPerUnit: cal.PixelsPerUnit, Unit: cal.Unit}, nil
}

// CreateMeasurement validates and stores a new measurement, computing its
// quantity when the drawing is calibrated. A cost collaborator failure does
// not roll back the geometry: the measurement is returned with CostError set.
func (r *Repository) CreateMeasurement(drawingID uint, in CreateMeasurementInput) (*models.Measurement, *Error) {
	drawing, repoErr := r.findDrawing(r.db, drawingID)
	if repoErr != nil {
		return nil, repoErr
	}
	if !in.Type.Valid() {
		return nil, &Error{Kind: ErrValidation, Field: "type", Message: fmt.Sprintf("unknown measurement type %q", in.Type)}
	}
	if repoErr := validateCommonFields(in.Name, in.Color, in.Category); repoErr != nil {
		return nil, repoErr
	}
	if err := takeoff.ValidatePoints(in.Type, in.Points); err != nil {
		return nil, wrapDomainError(err)
	}
	scope := in.Scope
	if scope == "" {
		scope = "takeoff"
	}
	if scope != "takeoff" && scope != "variation" {
		return nil, &Error{Kind: ErrValidation, Field: "scope", Message: fmt.Sprintf("unknown scope %q", scope)}
	}

	imgW, imgH := drawing.PixelSize()
	measurement := models.Measurement{
		DrawingID:           drawingID,
		Name:                in.Name,
		Type:                in.Type,
		Color:               in.Color,
		Category:            in.Category,
		Points:              in.Points,
		TakeoffConditionID:  in.TakeoffConditionID,
		BidAreaID:           in.BidAreaID,
		ParentMeasurementID: in.ParentMeasurementID,
		Scope:               scope,
		VariationID:         in.VariationID,
	}

	var outErr *Error
	txErr := r.db.Transaction(func(tx *gorm.DB) error {
		if in.ParentMeasurementID != nil {
			if repoErr := validateParent(tx, drawingID, *in.ParentMeasurementID); repoErr != nil {
				outErr = repoErr
				return repoErr
			}
		}
		if in.TakeoffConditionID != nil {
			if repoErr := conditionExists(tx, *in.TakeoffConditionID); repoErr != nil {
				outErr = repoErr
				return repoErr
			}
		}
		scale, repoErr := currentScale(tx, drawingID)
		if repoErr != nil {
			outErr = repoErr
			return repoErr
		}
		quantity, err := takeoff.Compute(in.Type, in.Points, scale, imgW, imgH)
		if err != nil {
			outErr = wrapDomainError(err)
			return outErr
		}
		measurement.ComputedValue = quantity.Value
		measurement.PerimeterValue = quantity.Perimeter
		measurement.Unit = quantity.Unit
		return tx.Create(&measurement).Error
	})
	if txErr != nil {
		if outErr != nil {
			return nil, outErr
		}
		return nil, wrapDBError(txErr)
	}

	if measurement.TakeoffConditionID != nil {
		if costErr := r.applyCosts(&measurement); costErr != nil {
			measurement.CostError = costErr.Message
		}
	}
	return &measurement, nil
}

// UpdateMeasurement applies the changed fields, recomputing the quantity when
// the points changed. When a condition is assigned after the update the cost
// fields are refreshed; when none is, they are cleared.
func (r *Repository) UpdateMeasurement(drawingID, measurementID uint, in UpdateMeasurementInput) (*models.Measurement, *Error) {
	drawing, repoErr := r.findDrawing(r.db, drawingID)
	if repoErr != nil {
		return nil, repoErr
	}

	var measurement models.Measurement
	err := r.db.First(&measurement, "measurement_id = ? AND drawing_id = ?", measurementID, drawingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Error{
				Kind:    ErrNotFound,
				Field:   "measurement_id",
				Message: fmt.Sprintf("measurement %d does not exist on drawing %d", measurementID, drawingID),
			}
		}
		return nil, wrapDBError(err)
	}

	if in.Name != nil {
		measurement.Name = *in.Name
	}
	if in.Color != nil {
		measurement.Color = *in.Color
	}
	if in.Category != nil {
		measurement.Category = in.Category
	}
	if repoErr := validateCommonFields(measurement.Name, measurement.Color, measurement.Category); repoErr != nil {
		return nil, repoErr
	}
	if in.TakeoffConditionID.Set {
		measurement.TakeoffConditionID = in.TakeoffConditionID.Value
	}
	if in.BidAreaID.Set {
		measurement.BidAreaID = in.BidAreaID.Value
	}

	txErr := r.db.Transaction(func(tx *gorm.DB) error {
		if measurement.TakeoffConditionID != nil {
			if repoErr := conditionExists(tx, *measurement.TakeoffConditionID); repoErr != nil {
				return repoErr
			}
		}
		if in.Points != nil {
			if err := takeoff.ValidatePoints(measurement.Type, in.Points); err != nil {
				return wrapDomainError(err)
			}
			scale, repoErr := currentScale(tx, drawingID)
			if repoErr != nil {
				return repoErr
			}
			imgW, imgH := drawing.PixelSize()
			quantity, err := takeoff.Compute(measurement.Type, in.Points, scale, imgW, imgH)
			if err != nil {
				return wrapDomainError(err)
			}
			measurement.Points = in.Points
			measurement.ComputedValue = quantity.Value
			measurement.PerimeterValue = quantity.Perimeter
			measurement.Unit = quantity.Unit
		}
		// Save with a column map so derived fields can go back to null.
		return tx.Model(&measurement).Updates(map[string]interface{}{
			"name":                 measurement.Name,
			"color":                measurement.Color,
			"category":             measurement.Category,
			"points":               measurement.Points,
			"computed_value":       measurement.ComputedValue,
			"perimeter_value":      measurement.PerimeterValue,
			"unit":                 measurement.Unit,
			"takeoff_condition_id": measurement.TakeoffConditionID,
			"bid_area_id":          measurement.BidAreaID,
		}).Error
	})
	if txErr != nil {
		var repoErr *Error
		if errors.As(txErr, &repoErr) {
			return nil, repoErr
		}
		return nil, wrapDBError(txErr)
	}

	costError := ""
	if measurement.TakeoffConditionID != nil {
		if costErr := r.applyCosts(&measurement); costErr != nil {
			costError = costErr.Message
		}
	} else if repoErr := r.clearCosts(&measurement); repoErr != nil {
		return nil, repoErr
	}

	var fresh models.Measurement
	if err := r.db.Preload("Deductions").First(&fresh, "measurement_id = ?", measurementID).Error; err != nil {
		return nil, wrapDBError(err)
	}
	attachNetQuantity(&fresh)
	fresh.CostError = costError
	return &fresh, nil
}

// DeleteMeasurement soft-deletes a measurement. Deleting a parent cascades to
// its active deduction children in the same transaction, stamping them with
// the parent's deletion time so restore can undo exactly this operation.
func (r *Repository) DeleteMeasurement(drawingID, measurementID uint) (*models.Measurement, *Error) {
	var measurement models.Measurement
	err := r.db.Preload("Deductions").
		First(&measurement, "measurement_id = ? AND drawing_id = ?", measurementID, drawingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Error{
				Kind:    ErrNotFound,
				Field:   "measurement_id",
				Message: fmt.Sprintf("measurement %d does not exist on drawing %d", measurementID, drawingID),
			}
		}
		return nil, wrapDBError(err)
	}

	deletedAt := time.Now()
	txErr := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&models.Measurement{}).
			Where("measurement_id = ? OR parent_measurement_id = ?", measurementID, measurementID).
			Update("deleted_at", deletedAt).Error
	})
	if txErr != nil {
		return nil, wrapDBError(txErr)
	}

	measurement.DeletedAt = gorm.DeletedAt{Time: deletedAt, Valid: true}
	for i := range measurement.Deductions {
		measurement.Deductions[i].DeletedAt = measurement.DeletedAt
	}
	return &measurement, nil
}

// RestoreMeasurement undeletes a soft-deleted measurement, together with the
// deduction children that were cascaded in the same delete.
func (r *Repository) RestoreMeasurement(drawingID, measurementID uint) (*models.Measurement, *Error) {
	var measurement models.Measurement
	err := r.db.Unscoped().
		First(&measurement, "measurement_id = ? AND drawing_id = ?", measurementID, drawingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Error{
				Kind:    ErrNotFound,
				Field:   "measurement_id",
				Message: fmt.Sprintf("measurement %d does not exist on drawing %d", measurementID, drawingID),
			}
		}
		return nil, wrapDBError(err)
	}

	if measurement.DeletedAt.Valid {
		deletedAt := measurement.DeletedAt.Time
		txErr := r.db.Transaction(func(tx *gorm.DB) error {
			return tx.Unscoped().Model(&models.Measurement{}).
				Where("measurement_id = ? OR (parent_measurement_id = ? AND deleted_at = ?)",
					measurementID, measurementID, deletedAt).
				Update("deleted_at", nil).Error
		})
		if txErr != nil {
			return nil, wrapDBError(txErr)
		}
	}

	if err := r.db.Preload("Deductions").First(&measurement, "measurement_id = ?", measurementID).Error; err != nil {
		return nil, wrapDBError(err)
	}
	attachNetQuantity(&measurement)
	return &measurement, nil
}

// ListMeasurements returns the drawing's active top-level measurements with
// nested deductions, oldest first. Deductions never appear top-level; their
// quantities surface through the parent's read-time net quantity.
func (r *Repository) ListMeasurements(drawingID uint) ([]models.Measurement, *Error) {
	if _, repoErr := r.findDrawing(r.db, drawingID); repoErr != nil {
		return nil, repoErr
	}
	var list []models.Measurement
	err := r.db.
		Where("drawing_id = ? AND parent_measurement_id IS NULL", drawingID).
		Preload("Deductions").
		Order("created_at").
		Find(&list).Error
	if err != nil {
		return nil, wrapDBError(err)
	}
	for i := range list {
		attachNetQuantity(&list[i])
	}
	return list, nil
}

// NetQuantity is the parent's quantity minus the sum of its active
// deductions' quantities. Derived at read time, never stored on the parent
// row. Nil when the parent has no computed value yet.
func NetQuantity(parent *models.Measurement) *float64 {
	if parent.ComputedValue == nil {
		return nil
	}
	net := *parent.ComputedValue
	for i := range parent.Deductions {
		child := &parent.Deductions[i]
		if child.DeletedAt.Valid || child.ComputedValue == nil {
			continue
		}
		net -= *child.ComputedValue
	}
	return &net
}

func attachNetQuantity(m *models.Measurement) {
	if m.ParentMeasurementID == nil {
		m.NetQuantity = NetQuantity(m)
	}
}

// RecalculateCosts re-invokes the cost collaborator for every measurement of
// the drawing bearing a condition, in bounded batches. Best-effort and
// idempotent: a failing row keeps its previous cost fields and is picked up
// by the next run. Returns the refreshed top-level list.
func (r *Repository) RecalculateCosts(drawingID uint) ([]models.Measurement, *Error) {
	if _, repoErr := r.findDrawing(r.db, drawingID); repoErr != nil {
		return nil, repoErr
	}

	var batch []models.Measurement
	err := r.db.
		Where("drawing_id = ? AND takeoff_condition_id IS NOT NULL", drawingID).
		Preload("Condition.Materials.MaterialItem.LocationPrices").
		FindInBatches(&batch, recomputeBatchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				if costErr := r.applyCosts(&batch[i]); costErr != nil {
					r.log.WithField("measurement_id", batch[i].ID).
						Warnf("cost recalculation skipped: %s", costErr.Message)
				}
			}
			return nil
		}).Error
	if err != nil {
		return nil, wrapDBError(err)
	}

	return r.ListMeasurements(drawingID)
}

func conditionExists(tx *gorm.DB, conditionID uint) *Error {
	var count int64
	if err := tx.Model(&models.TakeoffCondition{}).
		Where("takeoff_condition_id = ?", conditionID).
		Count(&count).Error; err != nil {
		return wrapDBError(err)
	}
	if count == 0 {
		return &Error{
			Kind:    ErrValidation,
			Field:   "takeoff_condition_id",
			Message: fmt.Sprintf("takeoff condition %d does not exist", conditionID),
		}
	}
	return nil
}

// applyCosts asks the cost collaborator for the measurement's cost breakdown
// and persists it. The measurement's condition is loaded if not already
// present. A collaborator failure is a downstream error: the geometric
// quantity stays authoritative and the stored cost fields are left as-is.
func (r *Repository) applyCosts(m *models.Measurement) *Error {
	if m.TakeoffConditionID == nil {
		return nil
	}
	if m.Condition == nil {
		var condition models.TakeoffCondition
		err := r.db.Preload("Materials.MaterialItem.LocationPrices").
			First(&condition, "takeoff_condition_id = ?", *m.TakeoffConditionID).Error
		if err != nil {
			return wrapDBError(err)
		}
		m.Condition = &condition
	}

	breakdown, err := r.costs.Compute(m)
	if err != nil {
		return &Error{Kind: ErrDownstream, Message: "cost calculation failed", Detail: err.Error()}
	}

	updates := map[string]interface{}{
		"material_cost": breakdown.MaterialCost,
		"labour_cost":   breakdown.LabourCost,
		"total_cost":    breakdown.TotalCost,
	}
	if err := r.db.Model(&models.Measurement{}).
		Where("measurement_id = ?", m.ID).
		Updates(updates).Error; err != nil {
		return wrapDBError(err)
	}
	m.MaterialCost = &breakdown.MaterialCost
	m.LabourCost = &breakdown.LabourCost
	m.TotalCost = &breakdown.TotalCost
	return nil
}

func (r *Repository) clearCosts(m *models.Measurement) *Error {
	updates := map[string]interface{}{
		"material_cost": nil,
		"labour_cost":   nil,
		"total_cost":    nil,
	}
	if err := r.db.Model(&models.Measurement{}).
		Where("measurement_id = ?", m.ID).
		Updates(updates).Error; err != nil {
		return wrapDBError(err)
	}
	m.MaterialCost, m.LabourCost, m.TotalCost = nil, nil, nil
	return nil
}
