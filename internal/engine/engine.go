package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/leadflow/internal/expressions"
	"github.com/rendis/leadflow/internal/logging"
	"github.com/rendis/leadflow/internal/sender"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/internal/streaming"
	"github.com/rendis/leadflow/internal/validation"
	"github.com/rendis/leadflow/pkg/schema"
)

// LeadRepository reads the CRM lead an execution targets. Satisfied by store.Store.
type LeadRepository interface {
	GetLead(ctx context.Context, id string) (*schema.Lead, error)
}

// TemplateStore resolves a step's email template. A missing template must be
// reported with schema.ErrCodeTemplateNotFound. Satisfied by store.Store.
type TemplateStore interface {
	GetEmailTemplate(ctx context.Context, ref string) (*schema.EmailTemplate, error)
}

const (
	DefaultConcurrency = 10
	DefaultBatchSize   = 100
	DefaultClaimTTL    = 5 * time.Minute
)

// Config tunes the engine. Zero values fall back to the defaults above.
type Config struct {
	Concurrency int
	BatchSize   int
	ClaimTTL    time.Duration
	// Retry enables bounded resends of failed emails. Nil keeps the
	// fail-on-first-error behaviour.
	Retry *schema.RetryPolicy
	// Breaker pauses scheduler passes while the provider keeps failing. Nil disables it.
	Breaker *CircuitBreakerConfig
	Now     func() time.Time
}

// Deps are the collaborators the engine is built from. Store and Sender are
// required; Leads and Templates default to Store.
type Deps struct {
	Store     store.Store
	Leads     LeadRepository
	Templates TemplateStore
	Sender    sender.Sender
	Hub       streaming.EventHub
	Validator validation.Validator
	Logger    *slog.Logger
}

// Engine runs email workflows: it starts executions from lead events, advances
// due executions one step at a time, and exposes the operator lifecycle.
// It keeps no per-execution state in memory; everything lives in the store.
type Engine struct {
	store     store.Store
	leads     LeadRepository
	templates TemplateStore
	sender    sender.Sender
	hub       streaming.EventHub
	validator validation.Validator
	logger    *slog.Logger

	config  Config
	now     func() time.Time
	fsm     *ExecutionFSM
	breaker *circuitBreaker

	conditions   *expressions.CELEngine
	filters      *expressions.ExprEngine
	captures     *expressions.GoJQEngine
	interpolator *expressions.Interpolator

	mu       sync.RWMutex
	matchers map[schema.TriggerKind]TriggerMatcher
}

// New wires an Engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine: store is required")
	}
	if deps.Sender == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine: sender is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:        deps.Store,
		leads:        deps.Leads,
		templates:    deps.Templates,
		sender:       deps.Sender,
		hub:          deps.Hub,
		validator:    deps.Validator,
		logger:       deps.Logger,
		config:       cfg,
		now:          func() time.Time { return cfg.Now().UTC() },
		conditions:   celEngine,
		filters:      expressions.NewExprEngine(),
		captures:     expressions.NewGoJQEngine(),
		interpolator: expressions.NewInterpolator(),
		matchers:     defaultMatchers(),
	}
	if e.leads == nil {
		e.leads = deps.Store
	}
	if e.templates == nil {
		e.templates = deps.Store
	}
	if e.hub == nil {
		e.hub = streaming.Nop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = logging.WithModule(e.logger, "engine")
	if e.validator == nil {
		v, err := validation.NewWorkflowValidator(e.Checkers())
		if err != nil {
			return nil, err
		}
		e.validator = v
	}
	if cfg.Breaker != nil {
		e.breaker = newCircuitBreaker(*cfg.Breaker, e.now)
	}
	e.fsm = NewExecutionFSM(e.hub, e.logger)
	return e, nil
}

// Checkers exposes the engine's expression compilers to the definition validator.
func (e *Engine) Checkers() validation.Checkers {
	return validation.Checkers{
		Condition: e.conditions,
		Filter:    e.filters,
		Capture:   e.captures,
	}
}

// FSM returns the execution state machine so callers can register hooks.
func (e *Engine) FSM() *ExecutionFSM {
	return e.fsm
}

// BreakerState reports the provider circuit state, or "disabled".
func (e *Engine) BreakerState() string {
	if e.breaker == nil {
		return "disabled"
	}
	return e.breaker.State().String()
}
