// Package api contains the HTTP handlers for the research memo service.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"lexmemo/backend/internal/audit"
	"lexmemo/backend/internal/engine"
	"lexmemo/backend/internal/logging"
	"lexmemo/backend/internal/registry"
	"lexmemo/backend/internal/repository"
	"lexmemo/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine   *engine.Engine
	Store    repository.RunStore
	Registry *registry.Registry
	Logger   *logging.Logger
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, store repository.RunStore, reg *registry.Registry, logger *logging.Logger) *Server {
	return &Server{Engine: eng, Store: store, Registry: reg, Logger: logger}
}

// RegisterRoutes mounts the versioned API onto the echo group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/runs", s.CreateRun)
	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)
	g.POST("/runs/:id/advance", s.AdvanceRun)
	g.POST("/runs/:id/resume", s.ResumeRun)
	g.POST("/runs/:id/cancel", s.CancelRun)
	g.GET("/runs/:id/export", s.ExportRun)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth reports service and store health.
// (GET /healthz)
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "lexmemo",
		Version:   "1.0.0",
	}
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string      `json:"type"`
	Title    string      `json:"title"`
	Status   int         `json:"status"`
	Detail   string      `json:"detail"`
	Instance string      `json:"instance,omitempty"`
	Errors   interface{} `json:"errors,omitempty"`
}

// problem writes an RFC 7807 problem+json response.
func problem(c echo.Context, status int, title, detail string) error {
	return problemWith(c, status, title, detail, nil)
}

func problemWith(c echo.Context, status int, title, detail string, extra interface{}) error {
	p := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
		Errors:   extra,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}

// mapDomainError translates known domain errors into problem responses.
// Returns false when the error is not recognized.
func (s *Server) mapDomainError(c echo.Context, err error) (error, bool) {
	var intakeErr *models.InvalidIntakeError
	if errors.As(err, &intakeErr) {
		return problemWith(c, http.StatusUnprocessableEntity, "Invalid intake", intakeErr.Error(), intakeErr), true
	}
	var transitionErr *repository.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return problem(c, http.StatusConflict, "Invalid transition", transitionErr.Error()), true
	}

	switch {
	case errors.Is(err, repository.ErrRunNotFound), errors.Is(err, registry.ErrDefinitionNotFound):
		return problem(c, http.StatusNotFound, "Not found", err.Error()), true
	case errors.Is(err, repository.ErrRunTerminal),
		errors.Is(err, repository.ErrPhaseRegression),
		errors.Is(err, engine.ErrRunNotRunnable),
		errors.Is(err, engine.ErrAwaitingInput),
		errors.Is(err, engine.ErrNotAwaitingInput),
		errors.Is(err, audit.ErrGateNotPassed):
		return problem(c, http.StatusConflict, "Conflict", err.Error()), true
	}
	return nil, false
}

func (s *Server) internalError(c echo.Context, err error) error {
	s.Logger.Error("request %s %s failed: %v", c.Request().Method, c.Request().URL.Path, err)
	return problem(c, http.StatusInternalServerError, "Internal error", err.Error())
}
