package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"lexmemo/backend/internal/audit"
	"lexmemo/backend/internal/engine"
	"lexmemo/backend/internal/registry"
	"lexmemo/backend/internal/repository"
	"lexmemo/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	store     repository.RunStore
	registry  *registry.Registry
}

func NewServer(eng *engine.Engine, store repository.RunStore, reg *registry.Registry) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Litigation Research Memo",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine:   eng,
		store:    store,
		registry: reg,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_research_workflow",
			mcp.WithDescription("Start a research memo workflow run and execute it until it completes, fails, or parks for review"),
			mcp.WithString("matter_id", mcp.Required(), mcp.Description("Matter the run belongs to")),
			mcp.WithString("workflow_id", mcp.Description("Workflow definition id (defaults to the litigation research memo workflow)")),
			mcp.WithObject("intake", mcp.Required(), mcp.Description("Intake payload matching the workflow's input schema")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_run_status",
			mcp.WithDescription("Get a run's status, current phase, and phase history"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run id")),
		),
		s.handleGetRunStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_run_memo",
			mcp.WithDescription("Get the drafted memo of a run, if drafting has completed"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run id")),
		),
		s.handleGetRunMemo,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resume_run",
			mcp.WithDescription("Supply reviewer input to a run parked for human review"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run id")),
			mcp.WithObject("input", mcp.Required(), mcp.Description("Reviewer decision and notes")),
		),
		s.handleResumeRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the registered workflow definitions"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"export_audit_bundle",
			mcp.WithDescription("Export a run's audit bundle as markdown or JSON"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run id")),
			mcp.WithString("format", mcp.Description("markdown or json (default json)")),
		),
		s.handleExportAuditBundle,
	)
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	matterID, ok := args["matter_id"].(string)
	if !ok || matterID == "" {
		return mcp.NewToolResultError("Missing required parameter: matter_id"), nil
	}
	workflowID, _ := args["workflow_id"].(string)
	if workflowID == "" {
		workflowID = engine.ResearchMemoWorkflowID
	}
	intake, ok := args["intake"].(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: intake"), nil
	}

	run, err := s.engine.StartRun(ctx, matterID, workflowID, intake)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create run: %v", err)), nil
	}
	run, err = s.engine.RunAll(ctx, run.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to execute run: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(runSummary(run))
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, errResult := s.lookupRun(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	jsonBytes, _ := json.Marshal(runSummary(run))
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetRunMemo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, errResult := s.lookupRun(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	for i := len(run.Results) - 1; i >= 0; i-- {
		if memo, ok := run.Results[i].Artifacts[engine.ArtifactMemo]; ok {
			jsonBytes, _ := json.Marshal(memo)
			return mcp.NewToolResultText(string(jsonBytes)), nil
		}
	}
	return mcp.NewToolResultError("Run has no drafted memo yet"), nil
}

func (s *Server) handleResumeRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}
	input, ok := args["input"].(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: input"), nil
	}

	if _, err := s.engine.Resume(ctx, runID, input); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resume run: %v", err)), nil
	}
	run, err := s.engine.RunAll(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to execute run: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(runSummary(run))
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(s.registry.List())
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleExportAuditBundle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, errResult := s.lookupRun(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	bundle, err := audit.FromRun(run, engine.AuditArtifactNames())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assemble audit bundle: %v", err)), nil
	}

	args, _ := request.Params.Arguments.(map[string]interface{})
	format, _ := args["format"].(string)
	if format == "markdown" {
		return mcp.NewToolResultText(audit.RenderMarkdown(bundle)), nil
	}
	out, err := audit.RenderJSON(bundle)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to render audit bundle: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) lookupRun(ctx context.Context, request mcp.CallToolRequest) (*models.WorkflowRun, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, mcp.NewToolResultError("Invalid arguments type")
	}
	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return nil, mcp.NewToolResultError("Missing required parameter: run_id")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Failed to load run: %v", err))
	}
	return run, nil
}

// runSummary trims the run for tool output: artifacts can be large, so phase
// history is reported without them.
func runSummary(run *models.WorkflowRun) map[string]interface{} {
	phases := make([]map[string]interface{}, 0, len(run.Results))
	for _, r := range run.Results {
		phases = append(phases, map[string]interface{}{
			"phase_index": r.PhaseIndex,
			"phase_name":  r.PhaseName,
			"status":      r.Status,
			"logs":        r.Logs,
			"errors":      r.Errors,
		})
	}
	summary := map[string]interface{}{
		"run_id":        run.ID,
		"matter_id":     run.MatterID,
		"workflow_id":   run.DefinitionID,
		"status":        run.Status,
		"current_phase": run.CurrentPhase,
		"phases":        phases,
	}
	if run.Error != "" {
		summary["error"] = run.Error
	}
	if run.CorrectionPlan != nil {
		summary["correction_plan"] = run.CorrectionPlan
	}
	return summary
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
