package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CreateRunRequest is the payload for starting a new run.
type CreateRunRequest struct {
	MatterID   string                 `json:"matter_id"`
	WorkflowID string                 `json:"workflow_id"`
	Intake     map[string]interface{} `json:"intake"`
}

// ResumeRunRequest carries the reviewer input for a parked run.
type ResumeRunRequest struct {
	Input map[string]interface{} `json:"input"`
}

// ListWorkflows returns all registered workflow definitions.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Registry.List())
}

// GetWorkflow returns the latest version of one workflow definition.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	def, err := s.Registry.Get(c.Param("id"))
	if err != nil {
		if resp, ok := s.mapDomainError(c, err); ok {
			return resp
		}
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

// CreateRun validates intake and creates a PENDING run. Nothing is persisted
// when intake validation fails.
// (POST /api/v1/runs)
func (s *Server) CreateRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if req.MatterID == "" || req.WorkflowID == "" {
		return problem(c, http.StatusBadRequest, "Invalid request body", "matter_id and workflow_id are required")
	}

	run, err := s.Engine.StartRun(c.Request().Context(), req.MatterID, req.WorkflowID, req.Intake)
	if err != nil {
		if resp, ok := s.mapDomainError(c, err); ok {
			return resp
		}
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// ListRuns returns runs, optionally filtered by matter.
// (GET /api/v1/runs?matter_id=)
func (s *Server) ListRuns(c echo.Context) error {
	runs, err := s.Store.ListRuns(c.Request().Context(), c.QueryParam("matter_id"))
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns one run with its full phase history.
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	run, err := s.Store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		if resp, ok := s.mapDomainError(c, err); ok {
			return resp
		}
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// AdvanceRun executes the run's next phase.
// (POST /api/v1/runs/:id/advance)
func (s *Server) AdvanceRun(c echo.Context) error {
	run, err := s.Engine.ExecuteNextPhase(c.Request().Context(), c.Param("id"))
	if err != nil {
		if resp, ok := s.mapDomainError(c, err); ok {
			return resp
		}
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ResumeRun supplies reviewer input to a parked run.
// (POST /api/v1/runs/:id/resume)
func (s *Server) ResumeRun(c echo.Context) error {
	var req ResumeRunRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}

	run, err := s.Engine.Resume(c.Request().Context(), c.Param("id"), req.Input)
	if err != nil {
		if resp, ok := s.mapDomainError(c, err); ok {
			return resp
		}
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun fails the run with a cancellation error.
// (POST /api/v1/runs/:id/cancel)
func (s *Server) CancelRun(c echo.Context) error {
	run, err := s.Engine.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		if resp, ok := s.mapDomainError(c, err); ok {
			return resp
		}
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}
