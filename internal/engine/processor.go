package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/rendis/leadflow/internal/logging"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/internal/streaming"
	"github.com/rendis/leadflow/pkg/schema"
)

// errAbandoned marks a step given up because the pass was cancelled. Nothing
// is committed; the claim lease expires and the step runs again later.
var errAbandoned = errors.New("step abandoned")

// stepResult is the state a processed step leaves its execution in.
type stepResult struct {
	status      schema.ExecutionStatus
	currentStep int
	nextStepAt  *time.Time
	completedAt *time.Time
	err         string
	attempts    int
	entries     []schema.LogEntry
	events      []streaming.Event
	// sendErr is the provider failure, if any, fed to the circuit breaker.
	sendErr error
	sent    bool
}

// processExecution claims exec, runs its due step, and commits the outcome.
// It reports whether an outcome was committed; a lost claim, an abandoned
// step or a failed commit count as not processed. Errors are returned only
// for the pool's bookkeeping; the execution row is the record of what
// happened.
func (e *Engine) processExecution(ctx context.Context, exec *schema.Execution) (bool, error) {
	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID, exec.EntityID)
	logger := logging.LogWith(ctx, e.logger)

	now := e.now()
	leaseUntil := now.Add(e.config.ClaimTTL)
	claimed, err := e.store.ClaimExecution(ctx, exec.ID, exec.Version, now, leaseUntil)
	if err != nil {
		logger.Error("claim failed", slog.String("error", err.Error()))
		return false, err
	}
	if !claimed {
		logger.Debug("execution claimed elsewhere")
		return false, nil
	}

	res := e.runStepSafely(ctx, exec)
	if res == nil {
		logger.Warn("step abandoned, lease will expire", slog.Int("step", exec.CurrentStep+1))
		return false, errAbandoned
	}
	e.recordProvider(res)

	if err := e.fsm.Check(exec.ID, exec.Status, res.status); err != nil {
		return false, err
	}

	commitNow := e.now()
	updated, err := e.store.CommitStep(context.WithoutCancel(ctx), &store.StepCommit{
		ExecutionID:  exec.ID,
		ClaimVersion: exec.Version + 1,
		LeaseUntil:   leaseUntil,
		Status:       res.status,
		CurrentStep:  res.currentStep,
		NextStepAt:   res.nextStepAt,
		CompletedAt:  res.completedAt,
		Error:        res.err,
		Attempts:     res.attempts,
		Entries:      res.entries,
		Now:          commitNow,
	})
	if schema.IsCode(err, schema.ErrCodeConflict) {
		logger.Warn("claim lost before commit, outcome discarded",
			slog.Int("step", exec.CurrentStep+1), slog.Bool("sent", res.sent))
		return false, err
	}
	if err != nil {
		logger.Error("commit step failed", slog.String("error", err.Error()))
		return false, err
	}

	for _, ev := range res.events {
		e.publish(ctx, ev)
	}
	// A pause that landed mid-step keeps the row PAUSED; its event was
	// already emitted by the operator call.
	if updated.Status == res.status && res.status != exec.Status {
		e.fsm.Emit(ctx, updated, exec.Status, updated.Error)
	}
	logger.Info("step processed",
		slog.Int("current_step", updated.CurrentStep),
		slog.String("status", string(updated.Status)))
	if updated.Status == schema.ExecutionFailed {
		return true, errors.New(updated.Error)
	}
	return true, nil
}

// runStepSafely runs the step and converts errors and panics into a FAILED
// outcome, so one broken execution never takes the pass down.
func (e *Engine) runStepSafely(ctx context.Context, exec *schema.Execution) (res *stepResult) {
	order := exec.CurrentStep + 1
	defer func() {
		if r := recover(); r != nil {
			res = e.critical(exec, order, r, debug.Stack())
		}
	}()

	res, err := e.runStep(ctx, exec)
	if err == nil {
		return res
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return e.processingError(exec, order, err)
}

// runStep is the state machine for one due step:
// resolve -> condition -> render -> send -> schedule.
func (e *Engine) runStep(ctx context.Context, exec *schema.Execution) (*stepResult, error) {
	def, err := e.store.GetWorkflowDefinitionVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s v%d: %w", exec.WorkflowID, exec.WorkflowVersion, err)
	}

	order := exec.CurrentStep + 1
	step, ok := def.StepAt(order)
	if !ok {
		return e.complete(exec.CurrentStep), nil
	}

	lead, err := e.leads.GetLead(ctx, exec.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load lead %s: %w", exec.EntityID, err)
	}

	matched, err := e.matchCondition(ctx, step.Conditions, lead, exec.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("evaluate conditions of step %d: %w", order, err)
	}
	if !matched {
		res := e.advance(def, order)
		res.entries = append(res.entries, e.logEntry(schema.LogStepSkipped, order, step.TemplateRef, lead.Email, "skipped", ""))
		res.events = append(res.events, e.stepEvent(exec, schema.EventStepSkipped, order, "conditions not met"))
		return res, nil
	}

	tpl, err := e.templates.GetEmailTemplate(ctx, step.TemplateRef)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeTemplateNotFound) {
			return e.sendFailed(exec, order, step.TemplateRef, lead.Email, err), nil
		}
		return nil, fmt.Errorf("resolve template %s: %w", step.TemplateRef, err)
	}

	msg := e.interpolator.RenderMessage(tpl, lead.Email, lead.Vars())
	messageID, err := e.sender.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		res := e.sendFailed(exec, order, tpl.Name, lead.Email, err)
		res.sendErr = err
		return res, nil
	}

	res := e.advance(def, order)
	res.sent = true
	entry := e.logEntry(schema.LogEmailSent, order, tpl.Name, lead.Email, "sent", "")
	entry.Detail = messageID
	res.entries = append(res.entries, entry)
	res.events = append(res.events, e.stepEvent(exec, schema.EventStepSent, order, messageID))
	return res, nil
}

// advance records order as done and schedules its successor, or completes
// the execution right away when order was the last step.
func (e *Engine) advance(def *schema.WorkflowDefinition, order int) *stepResult {
	next, ok := def.StepAt(order + 1)
	if !ok {
		return e.complete(order)
	}
	at := e.now().Add(next.Delay())
	return &stepResult{
		status:      schema.ExecutionRunning,
		currentStep: order,
		nextStepAt:  &at,
	}
}

func (e *Engine) complete(currentStep int) *stepResult {
	return &stepResult{
		status:      schema.ExecutionCompleted,
		currentStep: currentStep,
		completedAt: timePtr(e.now()),
	}
}

// sendFailed either schedules a resend under the retry policy or fails the
// execution. The step position does not move in either case.
func (e *Engine) sendFailed(exec *schema.Execution, order int, templateName, recipient string, err error) *stepResult {
	reason := failureMessage(err)

	if canRetry(e.config.Retry, exec.Attempts, err) {
		at := e.now().Add(ComputeBackoff(e.config.Retry, exec.Attempts))
		attempt := exec.Attempts + 1
		entry := e.logEntry(schema.LogEmailSendRetry, order, templateName, recipient, "retrying", reason)
		entry.Detail = fmt.Sprintf("resend %d of %d at %s", attempt, e.config.Retry.Max, at.Format(time.RFC3339))
		return &stepResult{
			status:      schema.ExecutionRunning,
			currentStep: exec.CurrentStep,
			nextStepAt:  &at,
			attempts:    attempt,
			entries:     []schema.LogEntry{entry},
			events:      []streaming.Event{e.stepEvent(exec, schema.EventStepRetrying, order, reason)},
		}
	}

	entry := e.logEntry(schema.LogEmailSendFailed, order, templateName, recipient, "failed", reason)
	if exec.Attempts > 0 {
		entry.Detail = fmt.Sprintf("gave up after %d resends", exec.Attempts)
	}
	return &stepResult{
		status:      schema.ExecutionFailed,
		currentStep: exec.CurrentStep,
		completedAt: timePtr(e.now()),
		err:         fmt.Sprintf("Failure at step %d: %s", order, reason),
		attempts:    exec.Attempts,
		entries:     []schema.LogEntry{entry},
	}
}

// processingError fails the execution on an unexpected error outside the send.
func (e *Engine) processingError(exec *schema.Execution, order int, err error) *stepResult {
	reason := failureMessage(err)
	return &stepResult{
		status:      schema.ExecutionFailed,
		currentStep: exec.CurrentStep,
		completedAt: timePtr(e.now()),
		err:         fmt.Sprintf("Processing error at step %d: %s", order, reason),
		attempts:    exec.Attempts,
		entries: []schema.LogEntry{
			e.logEntry(schema.LogStepProcessingError, order, "", "", "error", err.Error()),
		},
	}
}

// critical fails the execution after a panic, keeping the stack in the log.
func (e *Engine) critical(exec *schema.Execution, order int, recovered any, stack []byte) *stepResult {
	msg := fmt.Sprint(recovered)
	entry := e.logEntry(schema.LogCriticalError, order, "", "", "critical", msg)
	entry.Detail = string(stack)
	return &stepResult{
		status:      schema.ExecutionFailed,
		currentStep: exec.CurrentStep,
		completedAt: timePtr(e.now()),
		err:         fmt.Sprintf("Critical error at step %d: %s", order, msg),
		attempts:    exec.Attempts,
		entries:     []schema.LogEntry{entry},
	}
}

func (e *Engine) recordProvider(res *stepResult) {
	if e.breaker == nil {
		return
	}
	switch {
	case res.sent:
		e.breaker.RecordSuccess()
	case res.sendErr != nil && IsRetryableError(res.sendErr):
		if e.breaker.RecordFailure() == CircuitOpen {
			e.logger.Warn("email provider circuit open", slog.String("error", res.sendErr.Error()))
		}
	}
}

func (e *Engine) logEntry(action schema.LogAction, order int, templateName, recipient, status, errMsg string) schema.LogEntry {
	return schema.LogEntry{
		Timestamp:    e.now(),
		Action:       action,
		StepOrder:    order,
		TemplateName: templateName,
		Recipient:    recipient,
		Status:       status,
		Error:        errMsg,
	}
}

func (e *Engine) stepEvent(exec *schema.Execution, eventType string, order int, detail string) streaming.Event {
	return streaming.Event{
		Type:        eventType,
		WorkflowID:  exec.WorkflowID,
		ExecutionID: exec.ID,
		EntityID:    exec.EntityID,
		StepOrder:   order,
		Timestamp:   e.now(),
		Detail:      detail,
	}
}

// failureMessage is the human-readable part of an adapter error.
func failureMessage(err error) string {
	var lfErr *schema.LeadflowError
	if errors.As(err, &lfErr) {
		return lfErr.Message
	}
	return err.Error()
}
