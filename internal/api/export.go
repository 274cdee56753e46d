package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"lexmemo/backend/internal/audit"
	"lexmemo/backend/internal/engine"
)

// ExportRun renders the run's audit bundle. The bundle is re-assembled from
// persisted run state on every call; formats are derived from the same value,
// so repeated exports are byte-identical.
// (GET /api/v1/runs/:id/export?format=markdown|json)
func (s *Server) ExportRun(c echo.Context) error {
	run, err := s.Store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		if resp, ok := s.mapDomainError(c, err); ok {
			return resp
		}
		return s.internalError(c, err)
	}

	bundle, err := audit.FromRun(run, engine.AuditArtifactNames())
	if err != nil {
		if resp, ok := s.mapDomainError(c, err); ok {
			return resp
		}
		return s.internalError(c, err)
	}

	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}
	switch format {
	case "json":
		out, err := audit.RenderJSON(bundle)
		if err != nil {
			return s.internalError(c, err)
		}
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, out)
	case "markdown":
		return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(audit.RenderMarkdown(bundle)))
	default:
		return problem(c, http.StatusBadRequest, "Invalid format", "format must be markdown or json")
	}
}
