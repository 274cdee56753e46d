// Package engine executes workflow runs phase by phase. The executor owns
// the control flow only: it loads the run, checks phase preconditions,
// dispatches the phase handler, appends the attempt to the run's result log,
// and drives the run state machine. All durable state lives in the run store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lexmemo/backend/internal/logging"
	"lexmemo/backend/internal/registry"
	"lexmemo/backend/internal/repository"
	"lexmemo/backend/internal/services"
	"lexmemo/backend/internal/verification"
	"lexmemo/backend/pkg/models"
)

// Options bounds the engine's retrieval calls.
type Options struct {
	GroundingTopK  int
	CaseLawTopK    int
	ValidationTopK int
}

func (o Options) withDefaults() Options {
	if o.GroundingTopK <= 0 {
		o.GroundingTopK = 10
	}
	if o.CaseLawTopK <= 0 {
		o.CaseLawTopK = 15
	}
	if o.ValidationTopK <= 0 {
		o.ValidationTopK = 5
	}
	return o
}

// phaseContext is what a handler gets to work with: the run, its definition,
// the phase spec, and the artifact projection filtered to declared inputs.
type phaseContext struct {
	run       *models.WorkflowRun
	def       *models.WorkflowDefinition
	spec      *models.PhaseSpec
	artifacts map[string]interface{}
}

// phaseOutput is what a handler hands back. On error a handler may still
// return partial output; its artifacts and logs are recorded on the failed
// attempt.
type phaseOutput struct {
	Artifacts map[string]interface{}
	Logs      []string
	SourceIDs []string
}

type phaseHandler func(ctx context.Context, pc *phaseContext) (*phaseOutput, error)

// Engine drives workflow runs.
type Engine struct {
	store     repository.RunStore
	registry  *registry.Registry
	retriever services.Retriever
	generator services.Generator
	gate      *verification.Gate
	logger    *logging.Logger
	tracer    trace.Tracer
	opts      Options
	handlers  map[string]phaseHandler
}

// New creates an Engine with handlers for the built-in research memo phases.
func New(store repository.RunStore, reg *registry.Registry, retriever services.Retriever, generator services.Generator, logger *logging.Logger, opts Options) *Engine {
	e := &Engine{
		store:     store,
		registry:  reg,
		retriever: retriever,
		generator: generator,
		gate:      verification.NewGate(),
		logger:    logger,
		tracer:    otel.Tracer("lexmemo/engine"),
		opts:      opts.withDefaults(),
	}
	e.handlers = map[string]phaseHandler{
		PhaseIntake:          e.runIntake,
		PhaseGrounding:       e.runGrounding,
		PhaseCaseLaw:         e.runCaseLaw,
		PhaseValidation:      e.runValidation,
		PhaseIssues:          e.runIssues,
		PhaseRuleExtraction:  e.runRuleExtraction,
		PhaseRuleApplication: e.runRuleApplication,
		PhaseDrafting:        e.runDrafting,
		PhaseVerification:    e.runVerification,
		PhaseExport:          e.runExport,
	}
	return e
}

// StartRun creates a new PENDING run of the latest version of the workflow.
func (e *Engine) StartRun(ctx context.Context, matterID, definitionID string, intake map[string]interface{}) (*models.WorkflowRun, error) {
	def, err := e.registry.Get(definitionID)
	if err != nil {
		return nil, err
	}
	return e.store.CreateRun(ctx, matterID, def, intake)
}

// ExecuteNextPhase runs the run's current phase once. The phase attempt is
// appended to the result log before any status transition. Run-level failure
// is reported through the returned run's status, not through the error; a
// non-nil error means the engine could not execute at all.
func (e *Engine) ExecuteNextPhase(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, fmt.Errorf("%w: run %s is %s", ErrRunNotRunnable, runID, run.Status)
	}
	if run.Status == models.RunStatusNeedsInput {
		return run, ErrAwaitingInput
	}

	def, err := e.registry.GetVersion(run.DefinitionID, run.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	spec := def.Phase(run.CurrentPhase)
	if spec == nil {
		// Nothing left to execute. A still-PENDING run (zero-phase definition)
		// passes through RUNNING first; the state machine has no direct edge.
		if run.Status == models.RunStatusPending {
			if err := e.store.SetStatus(ctx, runID, models.RunStatusRunning, "", nil); err != nil {
				return nil, err
			}
		}
		if err := e.store.SetStatus(ctx, runID, models.RunStatusCompleted, "", nil); err != nil {
			return nil, err
		}
		return e.store.GetRun(ctx, runID)
	}

	if run.Status == models.RunStatusPending {
		if err := e.store.SetStatus(ctx, runID, models.RunStatusRunning, "", nil); err != nil {
			return nil, err
		}
		run.Status = models.RunStatusRunning
	}

	all := projectArtifacts(run)

	// A phase whose upstream artifacts are missing can never succeed; the
	// run fails rather than executing against incomplete inputs.
	if missing := missingArtifacts(all, spec.Requires); len(missing) > 0 {
		msg := fmt.Sprintf("required artifacts missing: %v", missing)
		return e.recordFailure(ctx, runID, spec, nil, msg, true, nil, time.Now().UTC())
	}

	// Pausing phases park the run; the resume call supplies the input and
	// completes the phase.
	if spec.PausesForInput {
		result := models.PhaseResult{
			PhaseIndex: spec.Index,
			PhaseName:  spec.Name,
			Status:     models.PhaseStatusWaiting,
			Logs:       []string{"awaiting reviewer input"},
			StartedAt:  time.Now().UTC(),
			FinishedAt: time.Now().UTC(),
		}
		if err := e.store.AppendPhaseResult(ctx, runID, result); err != nil {
			return nil, err
		}
		if err := e.store.SetStatus(ctx, runID, models.RunStatusNeedsInput, "", nil); err != nil {
			return nil, err
		}
		e.logger.Info("run %s parked at phase %d (%s) for input", runID, spec.Index, spec.Name)
		return e.store.GetRun(ctx, runID)
	}

	handler, ok := e.handlers[spec.Name]
	if !ok {
		return e.recordFailure(ctx, runID, spec, nil, fmt.Sprintf("no handler for phase %s", spec.Name), true, nil, time.Now().UTC())
	}

	pc := &phaseContext{
		run:       run,
		def:       def,
		spec:      spec,
		artifacts: filterArtifacts(all, spec.Requires),
	}

	started := time.Now().UTC()
	phaseCtx, span := e.tracer.Start(ctx, "phase."+spec.Name, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("phase.index", spec.Index),
	))
	out, phaseErr := handler(phaseCtx, pc)
	span.End()

	if out == nil {
		out = &phaseOutput{}
	}

	if phaseErr != nil {
		fatal, plan := e.classify(spec, phaseErr)
		if fatal {
			return e.recordFailure(ctx, runID, spec, out, phaseErr.Error(), true, plan, started)
		}
		e.logger.Warn("run %s phase %d (%s) failed non-fatally: %v", runID, spec.Index, spec.Name, phaseErr)
		return e.recordFailure(ctx, runID, spec, out, phaseErr.Error(), false, nil, started)
	}

	result := models.PhaseResult{
		PhaseIndex: spec.Index,
		PhaseName:  spec.Name,
		Status:     models.PhaseStatusCompleted,
		Artifacts:  out.Artifacts,
		Logs:       out.Logs,
		SourceIDs:  out.SourceIDs,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err := e.store.AppendPhaseResult(ctx, runID, result); err != nil {
		return nil, err
	}
	if err := e.advanceOrComplete(ctx, runID, def, spec.Index); err != nil {
		return nil, err
	}
	e.logger.Info("run %s completed phase %d (%s)", runID, spec.Index, spec.Name)
	return e.store.GetRun(ctx, runID)
}

// RunAll advances the run until it parks, terminates, or the context is
// cancelled. Cancellation is honored between phases only; a phase in flight
// finishes and its result is preserved.
func (e *Engine) RunAll(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	for {
		if ctx.Err() != nil {
			return e.Cancel(context.WithoutCancel(ctx), runID)
		}
		run, err := e.ExecuteNextPhase(ctx, runID)
		if err != nil {
			if errors.Is(err, ErrAwaitingInput) {
				return run, nil
			}
			return nil, err
		}
		if run.Status.Terminal() || run.Status == models.RunStatusNeedsInput {
			return run, nil
		}
	}
}

// Resume completes a parked phase with the supplied input and puts the run
// back into RUNNING. It does not execute further phases.
func (e *Engine) Resume(ctx context.Context, runID string, input map[string]interface{}) (*models.WorkflowRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusNeedsInput {
		return run, fmt.Errorf("%w: run %s is %s", ErrNotAwaitingInput, runID, run.Status)
	}

	def, err := e.registry.GetVersion(run.DefinitionID, run.DefinitionVersion)
	if err != nil {
		return nil, err
	}
	spec := def.Phase(run.CurrentPhase)
	if spec == nil {
		return nil, fmt.Errorf("run %s parked at unknown phase %d", runID, run.CurrentPhase)
	}

	key := "input"
	if len(spec.Produces) > 0 {
		key = spec.Produces[0]
	}
	now := time.Now().UTC()
	result := models.PhaseResult{
		PhaseIndex: spec.Index,
		PhaseName:  spec.Name,
		Status:     models.PhaseStatusCompleted,
		Artifacts:  map[string]interface{}{key: input},
		Logs:       []string{"reviewer input received"},
		StartedAt:  now,
		FinishedAt: now,
	}
	if err := e.store.AppendPhaseResult(ctx, runID, result); err != nil {
		return nil, err
	}
	if err := e.store.AdvancePhase(ctx, runID, spec.Index+1); err != nil {
		return nil, err
	}
	if err := e.store.SetStatus(ctx, runID, models.RunStatusRunning, "", nil); err != nil {
		return nil, err
	}
	e.logger.Info("run %s resumed past phase %d (%s)", runID, spec.Index, spec.Name)
	return e.store.GetRun(ctx, runID)
}

// Cancel fails the run with a cancellation error. Pending and parked runs
// pass through RUNNING first; the state machine has no other path out.
func (e *Engine) Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, fmt.Errorf("%w: run %s is %s", repository.ErrRunTerminal, runID, run.Status)
	}
	if run.Status == models.RunStatusPending || run.Status == models.RunStatusNeedsInput {
		if err := e.store.SetStatus(ctx, runID, models.RunStatusRunning, "", nil); err != nil {
			return nil, err
		}
	}
	if err := e.store.SetStatus(ctx, runID, models.RunStatusFailed, "cancelled", nil); err != nil {
		return nil, err
	}
	e.logger.Info("run %s cancelled", runID)
	return e.store.GetRun(ctx, runID)
}

func (e *Engine) classify(spec *models.PhaseSpec, err error) (bool, *models.CorrectionPlan) {
	var vf *VerificationFailure
	if errors.As(err, &vf) {
		return true, vf.Plan
	}
	if isTimeout(err) {
		return spec.FatalOnTimeout, nil
	}
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Fatal || spec.Fatal, nil
	}
	return spec.Fatal, nil
}

// recordFailure appends the failed attempt and, when fatal, transitions the
// run to FAILED. Non-fatal failures advance to the next phase.
func (e *Engine) recordFailure(ctx context.Context, runID string, spec *models.PhaseSpec, out *phaseOutput, msg string, fatal bool, plan *models.CorrectionPlan, started time.Time) (*models.WorkflowRun, error) {
	result := models.PhaseResult{
		PhaseIndex: spec.Index,
		PhaseName:  spec.Name,
		Status:     models.PhaseStatusFailed,
		Errors:     []string{msg},
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if out != nil {
		result.Artifacts = out.Artifacts
		result.Logs = out.Logs
		result.SourceIDs = out.SourceIDs
	}
	if err := e.store.AppendPhaseResult(ctx, runID, result); err != nil {
		return nil, err
	}

	if fatal {
		e.logger.Error("run %s failed at phase %d (%s): %s", runID, spec.Index, spec.Name, msg)
		if err := e.store.SetStatus(ctx, runID, models.RunStatusFailed, msg, plan); err != nil {
			return nil, err
		}
		return e.store.GetRun(ctx, runID)
	}

	if err := e.store.AdvancePhase(ctx, runID, spec.Index+1); err != nil {
		return nil, err
	}
	return e.store.GetRun(ctx, runID)
}

func (e *Engine) advanceOrComplete(ctx context.Context, runID string, def *models.WorkflowDefinition, phaseIndex int) error {
	next := phaseIndex + 1
	if err := e.store.AdvancePhase(ctx, runID, next); err != nil {
		return err
	}
	if next >= len(def.Phases) {
		return e.store.SetStatus(ctx, runID, models.RunStatusCompleted, "", nil)
	}
	return nil
}
