package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/google/uuid"
)

// Errors surfaced to callers.
var (
	ErrUnknownProcedure    = errors.New("unknown procedure")
	ErrResponseNotFound    = errors.New("response not found")
	ErrNotAwaitingApproval = errors.New("response is not awaiting approval")
)

// Config contains orchestrator configuration.
type Config struct {
	// ApprovalTimeout bounds how long an approval-gated response waits
	// before AutoApprove (if enabled) lets it proceed.
	ApprovalTimeout time.Duration
	// AutoApprove is the default-to-act policy for life-safety contexts:
	// when the timeout elapses without a human decision, execution proceeds
	// and the audit log records an explicit auto-approval. Configurable
	// because some deployments require a human in the loop.
	AutoApprove bool
	// StepDelay separates consecutive steps so downstream fan-out is not
	// overwhelmed.
	StepDelay time.Duration
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		ApprovalTimeout: 5 * time.Minute,
		AutoApprove:     true,
		StepDelay:       2 * time.Second,
	}
}

// Orchestrator executes emergency procedures: strictly ordered steps, an
// audit log per response, and optional human-approval gating.
type Orchestrator struct {
	config  Config
	catalog Catalog
	steps   StepTable
	sink    *telemetry.Sink

	runCtx context.Context

	mu        sync.Mutex
	responses map[string]*domain.EmergencyResponse
	timers    map[string]*time.Timer
}

// NewOrchestrator creates an orchestrator over the given catalog and step
// table.
func NewOrchestrator(config Config, catalog Catalog, steps StepTable, sink *telemetry.Sink) *Orchestrator {
	def := DefaultConfig()
	if config.ApprovalTimeout <= 0 {
		config.ApprovalTimeout = def.ApprovalTimeout
	}
	if config.StepDelay < 0 {
		config.StepDelay = def.StepDelay
	}

	return &Orchestrator{
		config:    config,
		catalog:   catalog,
		steps:     steps,
		sink:      sink,
		runCtx:    context.Background(),
		responses: make(map[string]*domain.EmergencyResponse),
		timers:    make(map[string]*time.Timer),
	}
}

// Run sets the context bounding background execution (approval timers and
// step loops).
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCtx = ctx
}

// Trigger starts a response for procedureID. Unknown ids are a fatal caller
// error. Approval-gated procedures stay in initiated until Approve or, when
// auto-approval is enabled, the approval timeout; everything else begins
// executing immediately.
func (o *Orchestrator) Trigger(ctx context.Context, procedureID string, metadata map[string]string) (string, error) {
	procedure, ok := o.catalog[procedureID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProcedure, procedureID)
	}

	resp := &domain.EmergencyResponse{
		ID:          uuid.NewString(),
		ProcedureID: procedureID,
		StartTime:   time.Now(),
		Status:      domain.ResponseStatusInitiated,
		Metadata:    metadata,
	}
	o.appendLog(resp, fmt.Sprintf("response initiated for procedure %s (severity %s)", procedureID, procedure.Severity))

	o.mu.Lock()
	o.responses[resp.ID] = resp
	o.mu.Unlock()

	o.sink.Emit(telemetry.CategoryEmergency, "emergency procedure triggered", map[string]any{
		"response_id":  resp.ID,
		"procedure_id": procedureID,
		"severity":     string(procedure.Severity),
		"steps":        len(procedure.Steps),
	})
	recordTriggered(string(procedure.IncidentType))

	if !procedure.RequiresApproval {
		go o.execute(o.runCtx, resp.ID, procedure)
		return resp.ID, nil
	}

	o.lockedAppendLog(resp.ID, "awaiting approval")
	if o.config.AutoApprove {
		o.armApprovalTimer(resp.ID, procedure)
	}
	return resp.ID, nil
}

// Approve releases an approval-gated response into execution.
func (o *Orchestrator) Approve(ctx context.Context, responseID string) error {
	o.mu.Lock()
	resp, ok := o.responses[responseID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrResponseNotFound, responseID)
	}
	if resp.Status != domain.ResponseStatusInitiated {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotAwaitingApproval, responseID, resp.Status)
	}
	if timer, ok := o.timers[responseID]; ok {
		timer.Stop()
		delete(o.timers, responseID)
	}
	o.appendLog(resp, "approved by operator")
	procedureID := resp.ProcedureID
	o.mu.Unlock()

	procedure, ok := o.catalog[procedureID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcedure, procedureID)
	}

	o.sink.Emit(telemetry.CategoryEmergency, "emergency response approved", map[string]any{
		"response_id": responseID,
	})

	go o.execute(o.runCtx, responseID, procedure)
	return nil
}

// ActiveResponses returns every non-terminal response.
func (o *Orchestrator) ActiveResponses() []domain.EmergencyResponse {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.EmergencyResponse, 0)
	for _, resp := range o.responses {
		if resp.Status == domain.ResponseStatusInitiated || resp.Status == domain.ResponseStatusInProgress {
			out = append(out, cloneResponse(resp))
		}
	}
	return out
}

// ResponseStatus returns a snapshot of one response.
func (o *Orchestrator) ResponseStatus(responseID string) (domain.EmergencyResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	resp, ok := o.responses[responseID]
	if !ok {
		return domain.EmergencyResponse{}, fmt.Errorf("%w: %s", ErrResponseNotFound, responseID)
	}
	return cloneResponse(resp), nil
}

// armApprovalTimer schedules the auto-approval. The timer re-checks status
// before acting: an explicit approve or teardown in the meantime makes the
// stale timer a no-op.
func (o *Orchestrator) armApprovalTimer(responseID string, procedure domain.EmergencyProcedure) {
	timer := time.AfterFunc(o.config.ApprovalTimeout, func() {
		o.mu.Lock()
		resp, ok := o.responses[responseID]
		if !ok || resp.Status != domain.ResponseStatusInitiated {
			o.mu.Unlock()
			return
		}
		delete(o.timers, responseID)
		o.appendLog(resp, fmt.Sprintf("auto-approved after %s approval timeout, not a human decision", o.config.ApprovalTimeout))
		o.mu.Unlock()

		o.sink.Emit(telemetry.CategoryEmergency, "emergency response auto-approved", map[string]any{
			"response_id": responseID,
			"timeout":     o.config.ApprovalTimeout.String(),
		})
		recordAutoApproval()

		o.execute(o.runCtx, responseID, procedure)
	})

	o.mu.Lock()
	o.timers[responseID] = timer
	o.mu.Unlock()
}

// execute runs the procedure's steps strictly in order. A failing step
// terminates the whole response as failed; steps are not retried here —
// retry belongs to each step's collaborator.
func (o *Orchestrator) execute(ctx context.Context, responseID string, procedure domain.EmergencyProcedure) {
	o.mu.Lock()
	resp, ok := o.responses[responseID]
	if !ok || (resp.Status != domain.ResponseStatusInitiated) {
		o.mu.Unlock()
		return
	}
	resp.Status = domain.ResponseStatusInProgress
	o.appendLog(resp, "execution started")
	o.mu.Unlock()

	for i, step := range procedure.Steps {
		if i > 0 && o.config.StepDelay > 0 {
			select {
			case <-ctx.Done():
				o.fail(responseID, step, ctx.Err())
				return
			case <-time.After(o.config.StepDelay):
			}
		}

		handler := o.steps.Resolve(procedure.IncidentType, step)
		if handler == nil {
			o.lockedAppendLog(responseID, fmt.Sprintf("step %d %q: no handler, recorded as no-op", i+1, step))
			o.advance(responseID)
			continue
		}

		snapshot, err := o.ResponseStatus(responseID)
		if err != nil {
			return
		}
		result, err := handler(ctx, snapshot)
		if err != nil {
			o.fail(responseID, step, err)
			return
		}

		o.mu.Lock()
		if resp, ok := o.responses[responseID]; ok {
			resp.Notifications = append(resp.Notifications, result.Notifications...)
			resp.CompletedSteps++
			o.appendLog(resp, fmt.Sprintf("step %d %q completed", i+1, step))
		}
		o.mu.Unlock()
	}

	o.mu.Lock()
	if resp, ok := o.responses[responseID]; ok {
		resp.Status = domain.ResponseStatusCompleted
		o.appendLog(resp, "procedure completed")
	}
	o.mu.Unlock()

	o.sink.Emit(telemetry.CategoryEmergency, "emergency procedure completed", map[string]any{
		"response_id": responseID,
	})
	recordCompleted("completed")
}

func (o *Orchestrator) advance(responseID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if resp, ok := o.responses[responseID]; ok {
		resp.CompletedSteps++
	}
}

func (o *Orchestrator) fail(responseID, step string, cause error) {
	o.mu.Lock()
	if resp, ok := o.responses[responseID]; ok {
		resp.Status = domain.ResponseStatusFailed
		o.appendLog(resp, fmt.Sprintf("step %q failed: %v", step, cause))
	}
	o.mu.Unlock()

	o.sink.Emit(telemetry.CategoryEmergency, "emergency procedure failed", map[string]any{
		"response_id": responseID,
		"step":        step,
		"error":       cause.Error(),
	})
	recordCompleted("failed")
}

func (o *Orchestrator) appendLog(resp *domain.EmergencyResponse, message string) {
	resp.Logs = append(resp.Logs, domain.ResponseLogEntry{Time: time.Now(), Message: message})
}

func (o *Orchestrator) lockedAppendLog(responseID, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if resp, ok := o.responses[responseID]; ok {
		o.appendLog(resp, message)
	}
}

func cloneResponse(resp *domain.EmergencyResponse) domain.EmergencyResponse {
	out := *resp
	out.Notifications = append([]string(nil), resp.Notifications...)
	out.Logs = append([]domain.ResponseLogEntry(nil), resp.Logs...)
	if resp.Metadata != nil {
		out.Metadata = make(map[string]string, len(resp.Metadata))
		for k, v := range resp.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
