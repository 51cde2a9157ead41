package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/draftline/takeoff-engine/geometry"
	"github.com/draftline/takeoff-engine/repository"
	"github.com/draftline/takeoff-engine/takeoff"
)

var statusByKind = map[repository.ErrorKind]int{
	repository.ErrValidation:  http.StatusUnprocessableEntity,
	repository.ErrNotFound:    http.StatusNotFound,
	repository.ErrConflict:    http.StatusConflict,
	repository.ErrComputation: http.StatusUnprocessableEntity,
	repository.ErrDownstream:  http.StatusBadGateway,
	repository.ErrDatabase:    http.StatusInternalServerError,
}

type errorBody struct {
	Kind    repository.ErrorKind `json:"kind"`
	Field   string               `json:"field,omitempty"`
	Message string               `json:"message"`
	Detail  string               `json:"detail,omitempty"`
}

func writeError(c *gin.Context, err *repository.Error) {
	status, ok := statusByKind[err.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{
		Kind:    err.Kind,
		Field:   err.Field,
		Message: err.Message,
		Detail:  err.Detail,
	}})
}

func writeValidation(c *gin.Context, field, message string) {
	writeError(c, &repository.Error{Kind: repository.ErrValidation, Field: field, Message: message})
}

func pathID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeValidation(c, name, "must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// optionalUint distinguishes an absent JSON key from an explicit null, so
// updates can clear a field.
type optionalUint struct {
	set   bool
	value *uint
}

func (o *optionalUint) UnmarshalJSON(b []byte) error {
	o.set = true
	if string(b) == "null" {
		o.value = nil
		return nil
	}
	var v uint
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.value = &v
	return nil
}

// --- calibration ---

type calibrateRequest struct {
	Method       string   `json:"method"`
	Unit         string   `json:"unit"`
	PointAX      *float64 `json:"point_a_x"`
	PointAY      *float64 `json:"point_a_y"`
	PointBX      *float64 `json:"point_b_x"`
	PointBY      *float64 `json:"point_b_y"`
	RealDistance *float64 `json:"real_distance"`
	PaperSize    string   `json:"paper_size"`
	DrawingScale string   `json:"drawing_scale"`
}

func (ws *WebServer) getCalibration(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	cal, repoErr := ws.repo.GetCalibration(drawingID)
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calibration": cal})
}

func (ws *WebServer) putCalibration(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	var req calibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, "", "malformed request body: "+err.Error())
		return
	}
	if req.Method == "" {
		req.Method = string(takeoff.MethodManual)
	}

	input := takeoff.CalibrationInput{
		Method:       takeoff.Method(req.Method),
		Unit:         req.Unit,
		PaperSize:    req.PaperSize,
		DrawingScale: req.DrawingScale,
	}
	if input.Method == takeoff.MethodManual {
		if req.PointAX == nil || req.PointAY == nil || req.PointBX == nil || req.PointBY == nil {
			writeValidation(c, "point_a", "manual calibration requires both reference points")
			return
		}
		if req.RealDistance == nil {
			writeValidation(c, "real_distance", "manual calibration requires the reference distance")
			return
		}
		input.PointA = geometry.Point{X: *req.PointAX, Y: *req.PointAY}
		input.PointB = geometry.Point{X: *req.PointBX, Y: *req.PointBY}
		input.RealDistance = *req.RealDistance
	}

	cal, measurements, repoErr := ws.repo.SetCalibration(drawingID, input, nil)
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"calibration":  cal,
		"measurements": measurements,
	})
}

func (ws *WebServer) deleteCalibration(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	if repoErr := ws.repo.DeleteCalibration(drawingID); repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Calibration deleted."})
}

// --- measurements ---

type createMeasurementRequest struct {
	Name                string           `json:"name"`
	Type                string           `json:"type"`
	Color               string           `json:"color"`
	Category            *string          `json:"category"`
	Points              []geometry.Point `json:"points"`
	TakeoffConditionID  *uint            `json:"takeoff_condition_id"`
	BidAreaID           *uint            `json:"bid_area_id"`
	ParentMeasurementID *uint            `json:"parent_measurement_id"`
	Scope               string           `json:"scope"`
	VariationID         *uint            `json:"variation_id"`
}

type updateMeasurementRequest struct {
	Name               *string          `json:"name"`
	Color              *string          `json:"color"`
	Category           *string          `json:"category"`
	Points             []geometry.Point `json:"points"`
	TakeoffConditionID optionalUint     `json:"takeoff_condition_id"`
	BidAreaID          optionalUint     `json:"bid_area_id"`
}

func (ws *WebServer) listMeasurements(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	measurements, repoErr := ws.repo.ListMeasurements(drawingID)
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	cal, repoErr := ws.repo.GetCalibration(drawingID)
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"measurements": measurements,
		"calibration":  cal,
	})
}

func (ws *WebServer) createMeasurement(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	var req createMeasurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, "", "malformed request body: "+err.Error())
		return
	}

	measurement, repoErr := ws.repo.CreateMeasurement(drawingID, repository.CreateMeasurementInput{
		Name:                req.Name,
		Type:                takeoff.Kind(req.Type),
		Color:               req.Color,
		Category:            req.Category,
		Points:              req.Points,
		TakeoffConditionID:  req.TakeoffConditionID,
		BidAreaID:           req.BidAreaID,
		ParentMeasurementID: req.ParentMeasurementID,
		Scope:               req.Scope,
		VariationID:         req.VariationID,
	})
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusCreated, measurement)
}

func (ws *WebServer) updateMeasurement(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	measurementID, ok := pathID(c, "measurementID")
	if !ok {
		return
	}
	var req updateMeasurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, "", "malformed request body: "+err.Error())
		return
	}

	measurement, repoErr := ws.repo.UpdateMeasurement(drawingID, measurementID, repository.UpdateMeasurementInput{
		Name:               req.Name,
		Color:              req.Color,
		Category:           req.Category,
		Points:             req.Points,
		TakeoffConditionID: repository.OptionalUint{Set: req.TakeoffConditionID.set, Value: req.TakeoffConditionID.value},
		BidAreaID:          repository.OptionalUint{Set: req.BidAreaID.set, Value: req.BidAreaID.value},
	})
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusOK, measurement)
}

func (ws *WebServer) deleteMeasurement(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	measurementID, ok := pathID(c, "measurementID")
	if !ok {
		return
	}
	measurement, repoErr := ws.repo.DeleteMeasurement(drawingID, measurementID)
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Measurement deleted.",
		"measurement": measurement,
	})
}

func (ws *WebServer) restoreMeasurement(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	measurementID, ok := pathID(c, "measurementID")
	if !ok {
		return
	}
	measurement, repoErr := ws.repo.RestoreMeasurement(drawingID, measurementID)
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusOK, measurement)
}

func (ws *WebServer) recalculateCosts(c *gin.Context) {
	drawingID, ok := pathID(c, "drawingID")
	if !ok {
		return
	}
	measurements, repoErr := ws.repo.RecalculateCosts(drawingID)
	if repoErr != nil {
		writeError(c, repoErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"measurements": measurements})
}
