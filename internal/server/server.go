// Package server exposes the scheduler's control surface over HTTP.
package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/jobs"
	"github.com/TobiSchelling/trendpress/internal/scheduler"
)

const apiKeyHeader = "X-API-Key"

// Server is the HTTP control API for the scheduler.
type Server struct {
	svc    scheduler.Service
	apiKey string
	engine *gin.Engine
}

// New creates a Server. A non-empty apiKey is required on every /api route.
func New(svc scheduler.Service, apiKey string) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{svc: svc, apiKey: apiKey, engine: engine}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api", s.requireKey)
	api.GET("/status", s.handleStatus)
	api.GET("/quota", s.handleQuota)
	api.POST("/tick", s.handleTick)
	api.POST("/refresh", s.handleRefresh)
	api.POST("/cleanup", s.handleCleanup)
	api.POST("/jobs/process-next", s.handleProcessNext)
	api.POST("/jobs/reset-failed", s.handleResetFailed)
	api.POST("/jobs/:position/reset", s.handleResetJob)
}

func (s *Server) requireKey(c *gin.Context) {
	if s.apiKey == "" {
		c.Next()
		return
	}
	got := c.GetHeader(apiKeyHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
		return
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	rep, err := s.svc.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleQuota(c *gin.Context) {
	rep, err := s.svc.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if rep.Quota == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota usage unavailable"})
		return
	}
	c.JSON(http.StatusOK, rep.Quota)
}

func (s *Server) handleTick(c *gin.Context) {
	tickResponse(c, s.svc.Tick(c.Request.Context()))
}

func (s *Server) handleProcessNext(c *gin.Context) {
	tickResponse(c, s.svc.ProcessNext(c.Request.Context()))
}

func tickResponse(c *gin.Context, st scheduler.TickStatus) {
	switch st.Outcome {
	case scheduler.OutcomeError, scheduler.OutcomePlanUnavailable:
		c.JSON(http.StatusInternalServerError, gin.H{"error": st.Error, "tick": st})
	default:
		c.JSON(http.StatusOK, st)
	}
}

func (s *Server) handleRefresh(c *gin.Context) {
	res, err := s.svc.Refresh(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCleanup(c *gin.Context) {
	res, err := s.svc.Cleanup(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleResetFailed(c *gin.Context) {
	res, err := s.svc.ResetFailedJobs(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleResetJob(c *gin.Context) {
	position, err := strconv.Atoi(c.Param("position"))
	if err != nil || position < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position must be a positive integer"})
		return
	}
	job, err := s.svc.ResetStuckJob(c.Request.Context(), position)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// fail maps err to 400 for caller mistakes and 500 otherwise.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidPosition),
		errors.Is(err, scheduler.ErrNotResettable),
		errors.Is(err, scheduler.ErrNoPlan),
		errors.Is(err, jobs.ErrRetryLimit),
		errors.Is(err, jobs.ErrIllegalTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	}
}
