// Package api is the agent's local control surface: health, metrics, recent
// runs and manual job triggers over loopback HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voidmesh/backhaul/internal/models"
)

// Store defines the database operations the API reads from.
type Store interface {
	Ping(ctx context.Context) error
	GetRecentRuns(ctx context.Context, deviceID string, limit int) ([]models.Run, error)
}

// Trigger enqueues manual job executions.
type Trigger interface {
	TriggerManual(ctx context.Context, jobID uuid.UUID) error
}

// Server is the local control API.
type Server struct {
	store    Store
	trigger  Trigger
	metrics  http.Handler
	deviceID string
	logger   zerolog.Logger
}

// NewServer creates a Server. The metrics handler is optional.
func NewServer(store Store, trigger Trigger, metrics http.Handler, deviceID string, logger zerolog.Logger) *Server {
	return &Server{
		store:    store,
		trigger:  trigger,
		metrics:  metrics,
		deviceID: deviceID,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/runs", s.listRuns)
		v1.POST("/jobs/:id/run", s.triggerJob)
	}

	return router
}

// Run serves the API until the context is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info().Str("addr", addr).Msg("control API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("control API stopped")
		return ctx.Err()
	}
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(c.Request.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"device": s.deviceID,
	})
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	runs, err := s.store.GetRecentRuns(c.Request.Context(), s.deviceID, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) triggerJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	if err := s.trigger.TriggerManual(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution queue unavailable"})
			return
		}
		s.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to trigger job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "queued"})
}
