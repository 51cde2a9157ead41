// Package server exposes the calibration and measurement engine over a
// drawing-scoped JSON API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/draftline/takeoff-engine/repository"
)

// WebServer handles HTTP requests.
type WebServer struct {
	repo      *repository.Repository
	router    *gin.Engine
	server    *http.Server
	logger    *logrus.Logger
	startTime time.Time
}

// NewWebServer wires the routes and returns a server listening on addr once
// Start is called.
func NewWebServer(repo *repository.Repository, addr string, logger *logrus.Logger) *WebServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(logger))

	ws := &WebServer{
		repo:   repo,
		router: router,
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger:    logger,
		startTime: time.Now(),
	}

	router.GET("/healthz", ws.handleHealth)

	api := router.Group("/api/drawings/:drawingID")
	api.GET("/calibration", ws.getCalibration)
	api.PUT("/calibration", ws.putCalibration)
	api.DELETE("/calibration", ws.deleteCalibration)
	api.GET("/measurements", ws.listMeasurements)
	api.POST("/measurements", ws.createMeasurement)
	api.PUT("/measurements/:measurementID", ws.updateMeasurement)
	api.DELETE("/measurements/:measurementID", ws.deleteMeasurement)
	api.POST("/measurements/:measurementID/restore", ws.restoreMeasurement)
	api.POST("/recalculate-costs", ws.recalculateCosts)

	return ws
}

// Router exposes the handler tree, used by tests to drive requests without a
// listener.
func (ws *WebServer) Router() http.Handler {
	return ws.router
}

// Start serves HTTP in the background.
func (ws *WebServer) Start() {
	ws.logger.Infof("web server listening on %s", ws.server.Addr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Errorf("web server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the web server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("shutting down web server")
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(ws.startTime).String(),
	})
}

// requestID tags every request so log lines and error responses correlate.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		}).Info("request handled")
	}
}
