// Package repository owns the persistence layer: calibration upsert and its
// recompute cascade, the measurement lifecycle, and the typed errors every
// operation reports.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/draftline/takeoff-engine/repository/models"
	"github.com/draftline/takeoff-engine/takeoff"
)

// recomputeBatchSize bounds transaction and memory size when cascading over a
// drawing's measurements.
const recomputeBatchSize = 100

// ErrorKind classifies repository errors so the transport layer can map them
// to a response without string matching.
type ErrorKind string

const (
	ErrValidation  ErrorKind = "validation"
	ErrNotFound    ErrorKind = "not_found"
	ErrConflict    ErrorKind = "conflict"
	ErrComputation ErrorKind = "computation"
	ErrDownstream  ErrorKind = "downstream"
	ErrDatabase    ErrorKind = "database"
)

// Error is the error type every repository operation returns. Field carries
// the offending input name when one is known.
type Error struct {
	Kind    ErrorKind
	Field   string
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// CostBreakdown is what the cost collaborator returns for a measurement with
// an assigned condition.
type CostBreakdown struct {
	MaterialCost float64 `json:"material_cost"`
	LabourCost   float64 `json:"labour_cost"`
	TotalCost    float64 `json:"total_cost"`
}

// CostCalculator is the external cost collaborator. The measurement arrives
// with its condition (and the condition's material lines) preloaded. Failures
// are recovered locally: geometry stays authoritative and cost fields are
// refreshed on the next recalculation.
type CostCalculator interface {
	Compute(m *models.Measurement) (CostBreakdown, error)
}

// Repository provides calibration and measurement operations over a gorm DB.
type Repository struct {
	db    *gorm.DB
	costs CostCalculator
	log   *logrus.Entry
}

func New(costs CostCalculator) *Repository {
	return &Repository{
		costs: costs,
		log:   logrus.WithField("component", "repository"),
	}
}

// ConnectDB opens the postgres connection, retrying while the database comes
// up.
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := 0; i < 10; i++ {
		db, err := gorm.Open(postgres.Open(dsn))
		if err == nil {
			r.db = db
			r.log.Info("connected to postgres")
			return nil
		}
		lastErr = err
		r.log.Warnf("connection attempt %d failed: %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	return lastErr
}

// UseDB injects an already-open gorm connection. Tests use this with an
// in-memory database.
func (r *Repository) UseDB(db *gorm.DB) {
	r.db = db
}

// Migrate creates or updates the schema for every model the engine owns.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Drawing{},
		&models.ScaleCalibration{},
		&models.Measurement{},
		&models.TakeoffCondition{},
		&models.ConditionMaterial{},
		&models.MaterialItem{},
		&models.MaterialLocationPrice{},
	)
}

// Seed inserts a demo drawing and a couple of priced conditions so a fresh
// install has something to calibrate against.
func (r *Repository) Seed() error {
	var count int64
	r.db.Model(&models.Drawing{}).Count(&count)
	if count > 0 {
		r.log.Info("seed data already exists, skipping")
		return nil
	}

	tilesW, tilesH := 11890, 8410
	drawing := models.Drawing{Name: "Ground Floor Plan", TilesWidth: &tilesW, TilesHeight: &tilesH}
	if err := r.db.Create(&drawing).Error; err != nil {
		return err
	}

	plasterboard := models.MaterialItem{Name: "Plasterboard 13mm", Unit: "sheet", UnitCost: 18.50}
	studs := models.MaterialItem{Name: "Steel Stud 92mm", Unit: "ea", UnitCost: 6.80}
	for _, item := range []*models.MaterialItem{&plasterboard, &studs} {
		if err := r.db.Create(item).Error; err != nil {
			return err
		}
	}

	production := 4.5
	rate := 58.0
	wall := models.TakeoffCondition{
		Name:           "Internal Wall 92mm Stud",
		Type:           "linear",
		ProductionRate: &production,
		LabourUnitRate: &rate,
		Materials: []models.ConditionMaterial{
			{MaterialItemID: plasterboard.ID, QtyPerUnit: 0.7, WastePercentage: 10},
			{MaterialItemID: studs.ID, QtyPerUnit: 1.67, WastePercentage: 5},
		},
	}
	if err := r.db.Create(&wall).Error; err != nil {
		return err
	}

	r.log.Info("database seeding completed")
	return nil
}

// wrapDBError translates driver/gorm errors into the repository taxonomy.
func wrapDBError(err error) *Error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: ErrNotFound, Message: "record not found", Detail: err.Error()}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{
			Kind:    ErrDatabase,
			Message: pgErr.Message,
			Detail:  fmt.Sprintf("pg code %s: %s", pgErr.Code, pgErr.Detail),
		}
	}
	return &Error{Kind: ErrDatabase, Message: "database error occurred", Detail: err.Error()}
}

// wrapDomainError translates takeoff validation/computation errors.
func wrapDomainError(err error) *Error {
	var vErr *takeoff.ValidationError
	if errors.As(err, &vErr) {
		return &Error{Kind: ErrValidation, Field: vErr.Field, Message: vErr.Message}
	}
	var cErr *takeoff.ComputationError
	if errors.As(err, &cErr) {
		return &Error{Kind: ErrComputation, Message: cErr.Message}
	}
	return &Error{Kind: ErrValidation, Message: err.Error()}
}

// findDrawing loads a drawing row or reports not found.
func (r *Repository) findDrawing(tx *gorm.DB, drawingID uint) (*models.Drawing, *Error) {
	var drawing models.Drawing
	if err := tx.First(&drawing, "drawing_id = ?", drawingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Error{
				Kind:    ErrNotFound,
				Field:   "drawing_id",
				Message: fmt.Sprintf("drawing %d does not exist", drawingID),
			}
		}
		return nil, wrapDBError(err)
	}
	return &drawing, nil
}
