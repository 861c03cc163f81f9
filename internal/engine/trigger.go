package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/rendis/leadflow/internal/expressions"
	"github.com/rendis/leadflow/internal/logging"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/pkg/schema"
)

// Event payload keys read by the built-in matchers.
const (
	EventKeyNewStatus = "newStatus"
	EventKeyTagName   = "tagName"
	EventKeyDateField = "dateField"
)

// TriggerMatcher decides whether a workflow's trigger accepts an event of its kind.
type TriggerMatcher func(trigger schema.Trigger, event map[string]any) bool

func defaultMatchers() map[schema.TriggerKind]TriggerMatcher {
	return map[schema.TriggerKind]TriggerMatcher{
		schema.TriggerLeadCreated:   matchAlways,
		schema.TriggerStatusChanged: matchConfigKey("status", EventKeyNewStatus),
		schema.TriggerTagAdded:      matchConfigKey("tag", EventKeyTagName),
		schema.TriggerDateBased:     matchOptionalConfigKey("dateField", EventKeyDateField),
		schema.TriggerManual:        matchAlways,
	}
}

func matchAlways(schema.Trigger, map[string]any) bool { return true }

// matchConfigKey requires trigger.config[configKey] to equal event[eventKey].
func matchConfigKey(configKey, eventKey string) TriggerMatcher {
	return func(t schema.Trigger, event map[string]any) bool {
		want := t.ConfigString(configKey)
		return want != "" && want == eventString(event, eventKey)
	}
}

// matchOptionalConfigKey is matchConfigKey when the key is configured, and
// matches everything otherwise.
func matchOptionalConfigKey(configKey, eventKey string) TriggerMatcher {
	return func(t schema.Trigger, event map[string]any) bool {
		want := t.ConfigString(configKey)
		return want == "" || want == eventString(event, eventKey)
	}
}

func eventString(event map[string]any, key string) string {
	v, ok := event[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// RegisterMatcher installs or replaces the matcher for kind. MANUAL keeps its
// unconditional matcher: its events only come from an explicit operator call.
func (e *Engine) RegisterMatcher(kind schema.TriggerKind, m TriggerMatcher) error {
	if kind == schema.TriggerManual {
		return schema.NewError(schema.ErrCodeValidation, "MANUAL workflows always match an explicit invocation")
	}
	if m == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "nil matcher for %s", kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.matchers[kind] = m
	return nil
}

func (e *Engine) matcher(kind schema.TriggerKind) (TriggerMatcher, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.matchers[kind]
	return m, ok
}

// Evaluate starts every active workflow whose trigger accepts the event.
// A workflow that cannot be started is reported in the result's failures and
// does not stop the others. The returned error covers only failures to load
// the candidate workflows.
func (e *Engine) Evaluate(ctx context.Context, entityID string, kind schema.TriggerKind, eventData map[string]any) (*schema.EvaluationResult, error) {
	if entityID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "entity id is required")
	}
	if !kind.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown trigger kind %q", kind)
	}

	result := &schema.EvaluationResult{Started: []string{}}
	match, ok := e.matcher(kind)
	if !ok {
		return result, nil
	}

	active := true
	defs, err := e.store.ListWorkflowDefinitions(ctx, store.WorkflowFilter{Active: &active, TriggerKind: kind})
	if err != nil {
		return nil, err
	}

	ctx = logging.WithEntityID(ctx, entityID)
	for _, def := range defs {
		if !match(def.Trigger, eventData) {
			continue
		}
		triggerData, accepted, err := e.admitEvent(ctx, def, entityID, kind, eventData)
		if err == nil && !accepted {
			continue
		}
		if err == nil {
			var exec *schema.Execution
			exec, err = e.StartWorkflowExecution(ctx, def.ID, entityID, triggerData)
			if err == nil {
				result.Started = append(result.Started, exec.ID)
				continue
			}
		}
		result.Failures = append(result.Failures, schema.EvaluationFailure{
			WorkflowID: def.ID,
			Code:       schema.CodeOf(err),
			Error:      err.Error(),
		})
		e.logger.WarnContext(logging.WithWorkflowID(ctx, def.ID), "workflow not started",
			slog.String("trigger", string(kind)), slog.String("error", err.Error()))
	}

	e.logger.DebugContext(ctx, "trigger evaluated",
		slog.String("trigger", string(kind)),
		slog.Int("candidates", len(defs)),
		slog.Int("started", len(result.Started)),
		slog.Int("failed", len(result.Failures)))
	return result, nil
}

// admitEvent applies the optional eventSchema, filter and capture settings of
// a matched trigger and returns the trigger data snapshot to start with.
func (e *Engine) admitEvent(ctx context.Context, def *schema.WorkflowDefinition, entityID string, kind schema.TriggerKind, event map[string]any) (map[string]any, bool, error) {
	cfg := def.Trigger

	if raw, ok := cfg.Config["eventSchema"]; ok && raw != nil {
		schemaBytes, err := json.Marshal(raw)
		if err != nil {
			return nil, false, schema.NewError(schema.ErrCodeValidation, "encode event schema").WithCause(err)
		}
		if err := e.validator.ValidateEvent(event, schemaBytes); err != nil {
			return nil, false, err
		}
	}

	if filter := cfg.ConfigString("filter"); filter != "" {
		ok, err := expressions.EvaluateBool(ctx, e.filters, filter, expressions.FilterScope(entityID, kind, event))
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
	}

	snapshot := make(map[string]any, len(event)+1)
	if capture := cfg.ConfigString("capture"); capture != "" {
		out, err := e.captures.Evaluate(ctx, capture, event)
		if err != nil {
			return nil, false, err
		}
		if m, ok := out.(map[string]any); ok {
			maps.Copy(snapshot, m)
		} else if out != nil {
			snapshot["value"] = out
		}
	} else {
		maps.Copy(snapshot, event)
	}
	snapshot["trigger_kind"] = string(kind)
	return snapshot, true, nil
}
