package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/leadflow/pkg/schema"
)

const workflowSchemaURL = "https://leadflow.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://leadflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "name", "trigger", "steps"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$"
    },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "active": { "type": "boolean" },
    "version": { "type": "integer", "minimum": 0 },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" },
    "trigger": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {
          "type": "string",
          "enum": ["LEAD_CREATED", "STATUS_CHANGED", "TAG_ADDED", "DATE_BASED", "MANUAL"]
        },
        "config": {
          "type": "object",
          "properties": {
            "status": { "type": "string", "minLength": 1 },
            "tag": { "type": "string", "minLength": 1 },
            "dateField": { "type": "string", "minLength": 1 },
            "filter": { "type": "string", "minLength": 1 },
            "capture": { "type": "string", "minLength": 1 },
            "eventSchema": { "type": "object" }
          }
        }
      },
      "additionalProperties": false
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["order", "template_ref"],
      "properties": {
        "order": { "type": "integer", "minimum": 1 },
        "template_ref": { "type": "string", "minLength": 1 },
        "delay_hours": { "type": "integer", "minimum": 0 },
        "conditions": { "$ref": "#/$defs/condition" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["status", "source", "tag", "expression", "all", "any", "not"]
        },
        "values": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "value": { "type": "string" },
        "expression": { "type": "string" },
        "conditions": {
          "type": "array",
          "items": { "$ref": "#/$defs/condition" }
        }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "type": { "enum": ["status", "source"] } } },
          "then": { "required": ["values"], "properties": { "values": { "minItems": 1 } } }
        },
        {
          "if": { "properties": { "type": { "const": "tag" } } },
          "then": { "required": ["value"], "properties": { "value": { "minLength": 1 } } }
        },
        {
          "if": { "properties": { "type": { "const": "expression" } } },
          "then": { "required": ["expression"], "properties": { "expression": { "minLength": 1 } } }
        },
        {
          "if": { "properties": { "type": { "enum": ["all", "any"] } } },
          "then": { "required": ["conditions"], "properties": { "conditions": { "minItems": 1 } } }
        },
        {
          "if": { "properties": { "type": { "const": "not" } } },
          "then": { "required": ["conditions"], "properties": { "conditions": { "minItems": 1, "maxItems": 1 } } }
        }
      ]
    }
  }
}`

// JSONSchemaValidator validates workflow definitions and trigger payloads.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the workflow schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates a WorkflowDefinition against the workflow JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		return toLeadflowError(err)
	}
	return nil
}

// ValidateEvent validates a trigger payload against a JSON Schema given as raw
// bytes. Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidateEvent(event map[string]any, eventSchema []byte) error {
	if len(eventSchema) == 0 {
		return nil
	}
	if event == nil {
		event = map[string]any{}
	}

	compiled, err := v.getOrCompile(eventSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid event schema").WithCause(err)
	}

	doc, err := toJSONValue(event)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize event").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toLeadflowError(err)
	}
	return nil
}

// CompileEventSchema reports whether raw is a usable event schema.
func (v *JSONSchemaValidator) CompileEventSchema(raw []byte) error {
	_, err := v.getOrCompile(raw)
	return err
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// A fresh compiler and URL per schema avoids resource collisions.
	url := fmt.Sprintf("leadflow://event-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toLeadflowError(err error) *schema.LeadflowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
